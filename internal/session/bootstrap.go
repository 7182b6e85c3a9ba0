package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-participant/internal/config"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/store"
)

// LoadIdentity reads the logged-in participant from s.
func LoadIdentity(ctx context.Context, s store.SessionStore) (*model.Identity, error) {
	var identity model.Identity
	err := store.GetJSON(ctx, s, config.CacheKey.LoginKey(), &identity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIdentityMissing
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityMissing, err)
	}
	if !identity.Valid() {
		return nil, fmt.Errorf("%w: incomplete login", ErrIdentityMissing)
	}
	return &identity, nil
}

// SaveIdentity stores the participant returned by login.
func SaveIdentity(ctx context.Context, s store.SessionStore, identity *model.Identity) error {
	if !identity.Valid() {
		return fmt.Errorf("%w: incomplete login", ErrIdentityMissing)
	}
	return store.SetJSON(ctx, s, config.CacheKey.LoginKey(), identity)
}

// Bootstrap prepares a session: it loads the identity, fetches the exam,
// resolves the deadline, freezes the order and restores saved progress.
// Every failure is a *PreconditionError.
func Bootstrap(ctx context.Context, deps Deps) (*Session, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.OnFatal == nil {
		deps.OnFatal = func(error) {}
	}
	log := deps.Log.With().Str("component", "session").Logger()

	identity, err := LoadIdentity(ctx, deps.Store)
	if err != nil {
		return nil, &PreconditionError{Err: err}
	}
	log = log.With().Str("participant_id", identity.ParticipantID).Str("exam_id", identity.ExamID).Logger()
	deps.Backend.SetToken(identity.Token)

	exam, err := deps.Backend.FetchExam(ctx, identity.ExamID)
	if err != nil {
		return nil, &PreconditionError{Err: fmt.Errorf("fetch exam: %w", err)}
	}

	progress := newProgressRepo(deps.Store, config.CacheKey.ProgressKey(identity.ParticipantID, identity.ExamID), log)

	resolver := newWindowResolver(deps.Location, progress)
	deadline, err := resolver.ResolveDeadline(ctx, exam, deps.Now())
	if err != nil {
		return nil, &PreconditionError{Err: err}
	}

	randomizer := NewRandomizer(deps.Store, identity.ParticipantID, identity.ExamID, deps.Rand, log)
	questions, err := randomizer.Arrange(ctx, exam)
	if err != nil {
		return nil, &PreconditionError{Err: fmt.Errorf("arrange questions: %w", err)}
	}

	saved, err := progress.load(ctx)
	if err != nil {
		return nil, &PreconditionError{Err: err}
	}

	answers := newAnswerStore(questions, progress, deps.Now, deadline.EndsAt, log)
	answers.restore(saved)

	documents := newDocumentManager(deps.Backend, answers, questions, deps.Notifier, log)
	documents.restore()

	s := &Session{
		Identity:  identity,
		Exam:      exam,
		Deadline:  deadline,
		Questions: questions,
		Answers:   answers,
		Documents: documents,
		notifier:  deps.Notifier,
		onFatal:   deps.OnFatal,
		log:       log,
	}
	s.Submission = newSubmissionController(deps.Backend, deps.Store, answers, identity, questions, deps.Notifier, deps.RedirectDelay, deps.OnFinished, log)
	s.Drafts = newDraftSyncer(deps.Backend, answers, identity, questions, s.Submission, deps.DraftInterval, deps.DraftTimeout, log)
	s.countdown = newCountdown(deadline, deps.CountdownTick, deps.Now, deps.OnTick, s.expire)

	answered, _ := s.Progress()
	log.Info().
		Int("questions", len(questions)).
		Int("answered", answered).
		Time("started_at", deadline.StartedAt).
		Msg("Session restored")
	return s, nil
}
