package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// Domain Errors
var (
	ErrExamNotFound    = errors.New("exam not found")
	ErrUnknownQuestion = errors.New("question does not belong to exam")
)

type invitation struct {
	participantID string
	examID        string
	name          string
	codeHash      []byte
}

// ExamService serves the exam definitions and invitations of the stub. The
// catalog is read once at startup and never changes.
type ExamService struct {
	exams       map[string]*model.ExamDefinition
	invitations []invitation
	log         zerolog.Logger
}

// LoadExamService reads the exams file at path.
func LoadExamService(path string, bcryptCost int, log zerolog.Logger) (*ExamService, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read exams file: %w", err)
	}
	var exams []model.StubExam
	if err := json.Unmarshal(raw, &exams); err != nil {
		return nil, fmt.Errorf("parse exams file: %w", err)
	}
	return NewExamService(exams, bcryptCost, log)
}

// NewExamService indexes exams and hashes every invitation's login code, so
// plaintext codes are not kept in memory.
func NewExamService(exams []model.StubExam, bcryptCost int, log zerolog.Logger) (*ExamService, error) {
	s := &ExamService{
		exams: make(map[string]*model.ExamDefinition, len(exams)),
		log:   log.With().Str("component", "exam_service").Logger(),
	}

	for i := range exams {
		e := exams[i].ExamDefinition
		if e.ID == "" {
			return nil, fmt.Errorf("exam #%d has no id", i)
		}
		if _, dup := s.exams[e.ID]; dup {
			return nil, fmt.Errorf("duplicate exam id %q", e.ID)
		}
		for _, q := range e.Questions {
			if !q.Type.Valid() {
				return nil, fmt.Errorf("exam %s question %s: unknown type %q", e.ID, q.ID, q.Type)
			}
		}
		s.exams[e.ID] = &e

		for _, inv := range exams[i].Invitations {
			hash, err := bcrypt.GenerateFromPassword([]byte(inv.LoginCode), bcryptCost)
			if err != nil {
				return nil, fmt.Errorf("hash login code of %s: %w", inv.ParticipantID, err)
			}
			s.invitations = append(s.invitations, invitation{
				participantID: inv.ParticipantID,
				examID:        e.ID,
				name:          inv.Name,
				codeHash:      hash,
			})
		}
	}

	s.log.Info().Int("exams", len(s.exams)).Int("invitations", len(s.invitations)).Msg("Exam catalog loaded")
	return s, nil
}

// GetByID returns the participant-facing exam definition.
func (s *ExamService) GetByID(id string) (*model.ExamDefinition, error) {
	e, ok := s.exams[id]
	if !ok {
		return nil, ErrExamNotFound
	}
	return e, nil
}

// Question returns one question of an exam.
func (s *ExamService) Question(examID, questionID string) (*model.Question, error) {
	e, err := s.GetByID(examID)
	if err != nil {
		return nil, err
	}
	q, ok := e.QuestionByID(questionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	return q, nil
}

// CheckAnswers verifies every answer targets a question of the exam with the
// right type.
func (s *ExamService) CheckAnswers(examID string, answers []model.DraftAnswer) error {
	for _, a := range answers {
		q, err := s.Question(examID, a.QuestionID)
		if err != nil {
			return err
		}
		if q.Type != a.QuestionType {
			return fmt.Errorf("%w: %s is %s, not %s", ErrUnknownQuestion, q.ID, q.Type, a.QuestionType)
		}
	}
	return nil
}

// matchLoginCode finds the invitation whose code hash matches code.
func (s *ExamService) matchLoginCode(code string) (*invitation, bool) {
	for i := range s.invitations {
		if bcrypt.CompareHashAndPassword(s.invitations[i].codeHash, []byte(code)) == nil {
			return &s.invitations[i], true
		}
	}
	return nil, false
}
