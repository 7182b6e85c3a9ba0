package service

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/config"
	"github.com/stemsi/exstem-participant/internal/model"
)

// Sentinel errors for media uploads.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrNotDocumentQuestion = errors.New("question does not accept documents")
)

// MediaService stores participant documents on local disk.
type MediaService struct {
	cfg   *config.Config
	exams *ExamService
	log   zerolog.Logger
}

// NewMediaService creates a new MediaService.
func NewMediaService(cfg *config.Config, exams *ExamService, log zerolog.Logger) *MediaService {
	return &MediaService{
		cfg:   cfg,
		exams: exams,
		log:   log.With().Str("component", "media_service").Logger(),
	}
}

// SaveDocument checks the file against the question's constraints and the
// server-wide size cap, then saves it under UPLOAD_DIR/<participant>/ with a
// UUID filename.
func (s *MediaService) SaveDocument(participantID, examID, questionID string, file multipart.File, header *multipart.FileHeader) (*model.UploadResult, error) {
	q, err := s.exams.Question(examID, questionID)
	if err != nil {
		return nil, err
	}
	if q.Type != model.QuestionTypeDocumentUpload {
		return nil, fmt.Errorf("%w: %s", ErrNotDocumentQuestion, questionID)
	}

	if !q.Document.Allows(header.Filename) {
		return nil, fmt.Errorf("%w: %s (allowed: %s)",
			ErrUnsupportedFileType, header.Filename, strings.Join(q.Document.AllowedTypes, ", "))
	}

	limit := s.cfg.MaxUploadBytes
	if qmax := q.Document.MaxBytes(); qmax > 0 && (limit <= 0 || qmax < limit) {
		limit = qmax
	}
	if limit > 0 && header.Size > limit {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrFileTooLarge, header.Size, limit)
	}

	dir := filepath.Join(s.cfg.UploadDir, safeSegment(participantID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	filename := uuid.New().String() + strings.ToLower(filepath.Ext(header.Filename))
	dst, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	s.log.Debug().
		Str("participant_id", participantID).
		Str("question_id", questionID).
		Int64("bytes", header.Size).
		Msg("Document stored")

	return &model.UploadResult{
		FilePath: path.Join("/uploads", safeSegment(participantID), filename),
		FileName: header.Filename,
	}, nil
}

// safeSegment makes an id usable as a single path element.
func safeSegment(id string) string {
	id = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
	if id == "" || id == "." {
		return "_"
	}
	return id
}
