package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/config"
	"github.com/stemsi/exstem-participant/internal/model"
)

// Common auth errors.
var (
	ErrInvalidLoginCode = errors.New("invalid login code")
	ErrLoginCodeUsed    = errors.New("login code already used")
)

// Claims extends JWT standard claims with the participant binding.
type Claims struct {
	jwt.RegisteredClaims
	ParticipantID string `json:"participant_id"`
	ExamID        string `json:"exam_id"`
}

// AuthService exchanges single-use login codes for participant tokens.
type AuthService struct {
	cfg   *config.Config
	rdb   *redis.Client
	exams *ExamService
	log   zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client, exams *ExamService, log zerolog.Logger) *AuthService {
	return &AuthService{
		cfg:   cfg,
		rdb:   rdb,
		exams: exams,
		log:   log.With().Str("component", "auth_service").Logger(),
	}
}

// Login consumes a login code. Each code works exactly once; the consumed
// marker has no expiry.
func (s *AuthService) Login(ctx context.Context, code string) (*model.Identity, error) {
	inv, ok := s.exams.matchLoginCode(code)
	if !ok {
		return nil, ErrInvalidLoginCode
	}

	usedKey := config.CacheKey.LoginCodeUsedKey(inv.participantID, inv.examID)
	fresh, err := s.rdb.SetNX(ctx, usedKey, time.Now().Unix(), 0).Result()
	if err != nil {
		return nil, fmt.Errorf("consume login code: %w", err)
	}
	if !fresh {
		return nil, ErrLoginCodeUsed
	}

	token, err := s.GenerateToken(inv.participantID, inv.examID)
	if err != nil {
		// Give the code back so the participant can retry.
		s.rdb.Del(ctx, usedKey)
		return nil, err
	}

	s.log.Info().Str("participant_id", inv.participantID).Str("exam_id", inv.examID).Msg("Participant logged in")
	return &model.Identity{
		ParticipantID: inv.participantID,
		ExamID:        inv.examID,
		Name:          inv.name,
		Token:         token,
	}, nil
}

// GenerateToken signs a participant token bound to one exam.
func (s *AuthService) GenerateToken(participantID, examID string) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   participantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		ParticipantID: participantID,
		ExamID:        examID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ParticipantID == "" || claims.ExamID == "" {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
