package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/config"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/store"
)

// SubmitState is the state of the submission state machine.
type SubmitState int

const (
	StateIdle SubmitState = iota
	StateConfirmPending
	StateSubmitting
	StateAutoSubmitting
	StateDone
)

func (s SubmitState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfirmPending:
		return "confirm_pending"
	case StateSubmitting:
		return "submitting"
	case StateAutoSubmitting:
		return "auto_submitting"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("SubmitState(%d)", int(s))
}

type submitter interface {
	Submit(ctx context.Context, sub *model.AnswerSubmission) error
}

// SubmissionController runs the final submission. At most one /submit call
// is in flight per session, and a successful one purges every persisted key
// of the participant+exam along with the login identity.
type SubmissionController struct {
	backend   submitter
	store     store.SessionStore
	answers   *AnswerStore
	identity  *model.Identity
	questions []model.Question
	notifier  Notifier
	log       zerolog.Logger

	redirectDelay time.Duration
	redirectTick  time.Duration
	onFinished    func(auto bool)

	mu       sync.Mutex
	state    SubmitState
	started  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

func newSubmissionController(backend submitter, s store.SessionStore, answers *AnswerStore, identity *model.Identity, questions []model.Question, notifier Notifier, redirectDelay time.Duration, onFinished func(auto bool), log zerolog.Logger) *SubmissionController {
	if onFinished == nil {
		onFinished = func(bool) {}
	}
	return &SubmissionController{
		backend:       backend,
		store:         s,
		answers:       answers,
		identity:      identity,
		questions:     questions,
		notifier:      notifier,
		redirectDelay: redirectDelay,
		redirectTick:  time.Second,
		onFinished:    onFinished,
		done:          make(chan struct{}),
		log:           log.With().Str("component", "submission").Logger(),
	}
}

// State returns the current state.
func (c *SubmissionController) State() SubmitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubmissionStarted reports whether a submission is running or finished.
func (c *SubmissionController) SubmissionStarted() bool {
	return c.started.Load()
}

// Done is closed once the submission has been accepted.
func (c *SubmissionController) Done() <-chan struct{} {
	return c.done
}

// RequestSubmit asks for confirmation before a manual submission.
func (c *SubmissionController) RequestSubmit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
		c.state = StateConfirmPending
		return nil
	case StateConfirmPending:
		return nil
	case StateDone:
		return ErrAlreadySubmitted
	default:
		return ErrSubmissionInProgress
	}
}

// Cancel dismisses a pending confirmation.
func (c *SubmissionController) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConfirmPending {
		c.state = StateIdle
	}
}

// Confirm submits after RequestSubmit.
func (c *SubmissionController) Confirm(ctx context.Context) error {
	if err := c.begin(StateSubmitting); err != nil {
		return err
	}
	return c.run(ctx, false)
}

// ForceSubmit submits without confirmation. It is the timeout path.
func (c *SubmissionController) ForceSubmit(ctx context.Context) error {
	if err := c.begin(StateAutoSubmitting); err != nil {
		return err
	}
	return c.run(ctx, true)
}

func (c *SubmissionController) begin(next SubmitState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateSubmitting, StateAutoSubmitting:
		return ErrSubmissionInProgress
	case StateDone:
		return ErrAlreadySubmitted
	case StateIdle:
		if next == StateSubmitting {
			return ErrConfirmationRequired
		}
	}
	c.state = next
	c.started.Store(true)
	return nil
}

func (c *SubmissionController) fail() {
	c.mu.Lock()
	c.state = StateIdle
	c.started.Store(false)
	c.mu.Unlock()
	c.answers.hold(nil)
}

func (c *SubmissionController) run(ctx context.Context, auto bool) error {
	log := c.log.With().Bool("auto", auto).Str("exam_id", c.identity.ExamID).Logger()

	// Freeze answers before the snapshot so nothing lands after the purge.
	c.answers.hold(ErrSubmissionInProgress)

	if err := c.verifyIdentity(ctx); err != nil {
		c.fail()
		log.Error().Err(err).Msg("Identity check failed before submission")
		c.notifier.Notify(LevelError, "Sesi peserta tidak ditemukan, silakan login ulang")
		return err
	}

	sub := c.answers.Submission(c.identity, c.questions)
	if err := c.backend.Submit(ctx, sub); err != nil {
		if !isAttemptClosed(err) {
			c.fail()
			log.Warn().Err(err).Msg("Submission failed")
			c.notifier.Notify(LevelError, "Gagal mengumpulkan jawaban, silakan coba lagi")
			return fmt.Errorf("submit: %w", err)
		}
		log.Info().Msg("Attempt already closed on the server, treating as submitted")
	}

	c.answers.hold(ErrAlreadySubmitted)
	c.purge(ctx)

	c.mu.Lock()
	c.state = StateDone
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })

	log.Info().Int("answers", len(sub.Answers)).Msg("Exam submitted")
	c.notifier.Notify(LevelInfo, "Jawaban berhasil dikumpulkan")

	if auto {
		c.redirectCountdown(ctx)
	}
	c.onFinished(auto)
	return nil
}

// verifyIdentity checks that the persisted login still belongs to this
// session.
func (c *SubmissionController) verifyIdentity(ctx context.Context) error {
	stored, err := LoadIdentity(ctx, c.store)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityLost, err)
	}
	if stored.ParticipantID != c.identity.ParticipantID || stored.ExamID != c.identity.ExamID {
		return fmt.Errorf("%w: stored login is for another participant or exam", ErrIdentityLost)
	}
	return nil
}

// purge deletes every key of the participant+exam and the login identity.
func (c *SubmissionController) purge(ctx context.Context) {
	// Cleanup must finish even if the caller is shutting down.
	ctx = context.WithoutCancel(ctx)

	prefix := config.CacheKey.SessionScopePrefix(c.identity.ParticipantID, c.identity.ExamID)
	n, err := c.store.DeletePrefix(ctx, prefix)
	if err != nil {
		c.log.Error().Err(err).Str("prefix", prefix).Msg("Failed to purge session keys")
	}
	if err := c.store.Delete(ctx, config.CacheKey.LoginKey()); err != nil {
		c.log.Error().Err(err).Msg("Failed to clear login identity")
	}
	c.log.Debug().Int("keys", n).Msg("Session state purged")
}

func (c *SubmissionController) redirectCountdown(ctx context.Context) {
	if c.redirectDelay <= 0 {
		return
	}
	tick := c.redirectTick
	if tick <= 0 || tick > c.redirectDelay {
		tick = c.redirectDelay
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for left := c.redirectDelay; left > 0; left -= tick {
		c.notifier.Notify(LevelInfo, fmt.Sprintf("Waktu habis. Kembali ke halaman awal dalam %d detik", int((left+time.Second-1)/time.Second)))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// IsFatal reports whether err must end the session and return the
// participant to the login prompt.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIdentityLost)
}
