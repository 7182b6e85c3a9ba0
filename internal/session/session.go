// Package session implements the participant side of a timed online exam:
// window and deadline resolution, persisted question/option order, answer
// capture, document uploads, best-effort draft sync and exactly-once final
// submission with forced submission on timeout.
package session

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/store"
)

// Backend is the exam REST contract the session consumes. *api.Client
// implements it.
type Backend interface {
	SetToken(token string)
	FetchExam(ctx context.Context, examID string) (*model.ExamDefinition, error)
	SaveDraft(ctx context.Context, sub *model.AnswerSubmission) error
	SaveDraftBeacon(sub *model.AnswerSubmission)
	Upload(ctx context.Context, questionID, filename string, content io.Reader) (*model.UploadResult, error)
	Submit(ctx context.Context, sub *model.AnswerSubmission) error
}

// Deps are the collaborators and settings of a Session.
type Deps struct {
	Backend  Backend
	Store    store.SessionStore
	Location *time.Location
	Notifier Notifier
	Log      zerolog.Logger

	// Now defaults to time.Now. Rand defaults to a time-seeded source.
	Now  func() time.Time
	Rand *rand.Rand

	DraftInterval time.Duration
	DraftTimeout  time.Duration
	CountdownTick time.Duration
	RedirectDelay time.Duration

	// OnTick receives the remaining time on every countdown tick.
	OnTick func(remaining time.Duration)
	// OnFinished runs after a successful submission; auto is true on the
	// timeout path, after the redirect countdown. It runs on the countdown
	// goroutine on that path and must not call Close.
	OnFinished func(auto bool)
	// OnFatal runs when the timeout path hits an unrecoverable error.
	OnFatal func(err error)
}

// Session is one participant taking one exam.
type Session struct {
	Identity   *model.Identity
	Exam       *model.ExamDefinition
	Deadline   Deadline
	Questions  []model.Question
	Answers    *AnswerStore
	Documents  *DocumentManager
	Drafts     *DraftSyncer
	Submission *SubmissionController

	countdown *Countdown
	notifier  Notifier
	onFatal   func(error)
	log       zerolog.Logger

	mu        sync.Mutex
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Start launches the countdown and the draft loop. Calling it again is a
// no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	s.log.Info().
		Time("ends_at", s.Deadline.EndsAt).
		Dur("remaining", s.countdown.Remaining()).
		Msg("Session started")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.countdown.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.Drafts.Run(runCtx)
	}()
}

// expire is the countdown's zero handler.
func (s *Session) expire() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.log.Info().Msg("Time is up, submitting")
	s.notifier.Notify(LevelWarning, "Waktu habis, jawaban dikumpulkan otomatis")

	err := s.Submission.ForceSubmit(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSubmissionInProgress), errors.Is(err, ErrAlreadySubmitted):
	case IsFatal(err):
		s.onFatal(err)
	default:
		s.log.Error().Err(err).Msg("Auto submission failed")
	}
}

// Close stops the background tasks and, unless the submission has started,
// hands a last draft to the backend. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		s.Drafts.Flush()
		s.log.Info().Msg("Session closed")
	})
}

// Done is closed once the exam has been submitted.
func (s *Session) Done() <-chan struct{} {
	return s.Submission.Done()
}

// Remaining returns the time left before the forced submission.
func (s *Session) Remaining() time.Duration {
	return s.countdown.Remaining()
}

// Question returns the n-th question in presentation order, counting from 1.
func (s *Session) Question(n int) (*model.Question, bool) {
	if n < 1 || n > len(s.Questions) {
		return nil, false
	}
	return &s.Questions[n-1], true
}

// Progress counts answered and flagged questions.
func (s *Session) Progress() (answered, flagged int) {
	snap := s.Answers.Snapshot()
	for _, q := range s.Questions {
		if _, ok := snap[q.ID]; ok {
			answered++
		}
		if s.Answers.Flagged(q.ID) {
			flagged++
		}
	}
	return answered, flagged
}
