package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/config"
	"github.com/stemsi/exstem-participant/internal/model"
)

// ErrAttemptClosed is returned for drafts and submissions after the final
// submission went through.
var ErrAttemptClosed = errors.New("attempt already submitted")

// AttemptService stores draft and final answers in Redis. Answers live in
// one hash per participant+exam, field = question id.
type AttemptService struct {
	rdb   *redis.Client
	exams *ExamService
	log   zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(rdb *redis.Client, exams *ExamService, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		rdb:   rdb,
		exams: exams,
		log:   log.With().Str("component", "attempt_service").Logger(),
	}
}

// SaveDraft upserts the answers of an open attempt.
func (s *AttemptService) SaveDraft(ctx context.Context, sub *model.AnswerSubmission) error {
	if err := s.exams.CheckAnswers(sub.ExamID, sub.Answers); err != nil {
		return err
	}

	closed, err := s.IsClosed(ctx, sub.ParticipantID, sub.ExamID)
	if err != nil {
		return err
	}
	if closed {
		return ErrAttemptClosed
	}

	return s.writeAnswers(ctx, sub)
}

// Submit stores the final answers and closes the attempt. Only the first
// call succeeds.
func (s *AttemptService) Submit(ctx context.Context, sub *model.AnswerSubmission) error {
	if err := s.exams.CheckAnswers(sub.ExamID, sub.Answers); err != nil {
		return err
	}

	closedKey := config.CacheKey.AttemptClosedKey(sub.ParticipantID, sub.ExamID)
	first, err := s.rdb.SetNX(ctx, closedKey, time.Now().Unix(), 0).Result()
	if err != nil {
		return fmt.Errorf("close attempt: %w", err)
	}
	if !first {
		return ErrAttemptClosed
	}

	if err := s.writeAnswers(ctx, sub); err != nil {
		// Reopen so the participant can resubmit.
		s.rdb.Del(ctx, closedKey)
		return err
	}

	s.log.Info().
		Str("participant_id", sub.ParticipantID).
		Str("exam_id", sub.ExamID).
		Int("answers", len(sub.Answers)).
		Msg("Attempt submitted")
	return nil
}

// IsClosed reports whether the attempt has been submitted.
func (s *AttemptService) IsClosed(ctx context.Context, participantID, examID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, config.CacheKey.AttemptClosedKey(participantID, examID)).Result()
	if err != nil {
		return false, fmt.Errorf("check attempt: %w", err)
	}
	return n > 0, nil
}

// Answers returns the stored answers, question id to jawaban_text.
func (s *AttemptService) Answers(ctx context.Context, participantID, examID string) (map[string]string, error) {
	answers, err := s.rdb.HGetAll(ctx, config.CacheKey.DraftAnswersKey(participantID, examID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	return answers, nil
}

func (s *AttemptService) writeAnswers(ctx context.Context, sub *model.AnswerSubmission) error {
	if len(sub.Answers) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(sub.Answers))
	for _, a := range sub.Answers {
		fields[a.QuestionID] = a.Text
	}
	if err := s.rdb.HSet(ctx, config.CacheKey.DraftAnswersKey(sub.ParticipantID, sub.ExamID), fields).Err(); err != nil {
		return fmt.Errorf("store answers: %w", err)
	}
	return nil
}
