package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/model"
)

// AnswerStore holds the participant's answers and "ragu-ragu" flags.
// Every mutation is persisted before it returns, in call order. Mutations
// are refused from the deadline on and while a submission holds the store.
type AnswerStore struct {
	progress *progressRepo
	now      func() time.Time
	endsAt   time.Time
	log      zerolog.Logger

	mu      sync.RWMutex
	types   map[string]model.QuestionType
	answers map[string]model.Answer
	flags   map[string]bool
	held    error // non-nil while writes are refused by the submission
}

func newAnswerStore(questions []model.Question, progress *progressRepo, now func() time.Time, endsAt time.Time, log zerolog.Logger) *AnswerStore {
	types := make(map[string]model.QuestionType, len(questions))
	for _, q := range questions {
		types[q.ID] = q.Type
	}
	return &AnswerStore{
		progress: progress,
		now:      now,
		endsAt:   endsAt,
		log:      log,
		types:    types,
		answers:  make(map[string]model.Answer),
		flags:    make(map[string]bool),
	}
}

// restore loads persisted answers and flags. Entries for questions the exam
// no longer has, and document answers that cannot be decoded, are dropped.
func (a *AnswerStore) restore(p *model.SessionProgress) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for qid, raw := range p.Answers {
		t, ok := a.types[qid]
		if !ok {
			continue
		}
		ans, err := model.DecodeAnswer(t, raw)
		if err != nil {
			a.log.Warn().Err(err).Str("question_id", qid).Msg("Dropping unreadable saved answer")
			continue
		}
		if !ans.IsEmpty() {
			a.answers[qid] = ans
		}
	}
	for qid, flagged := range p.Flags {
		if _, ok := a.types[qid]; ok && flagged {
			a.flags[qid] = true
		}
	}
}

// SetAnswer replaces the answer of qid. An empty answer clears it.
func (a *AnswerStore) SetAnswer(ctx context.Context, qid string, ans model.Answer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.types[qid]
	if !ok {
		return ErrUnknownQuestion
	}
	if err := a.writableLocked(); err != nil {
		return err
	}
	ans.Type = t
	if ans.IsEmpty() {
		delete(a.answers, qid)
	} else {
		a.answers[qid] = ans
	}
	return a.persistLocked(ctx)
}

// Answer returns the current answer of qid.
func (a *AnswerStore) Answer(qid string) (model.Answer, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ans, ok := a.answers[qid]
	if ok && ans.Type == model.QuestionTypeDocumentUpload {
		ans = model.DocumentAnswer(ans.Paths)
	}
	return ans, ok
}

func (a *AnswerStore) ClearAnswer(ctx context.Context, qid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.types[qid]; !ok {
		return ErrUnknownQuestion
	}
	if err := a.writableLocked(); err != nil {
		return err
	}
	delete(a.answers, qid)
	return a.persistLocked(ctx)
}

// ToggleFlag flips the doubt flag of qid and returns the new value.
func (a *AnswerStore) ToggleFlag(ctx context.Context, qid string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.types[qid]; !ok {
		return false, ErrUnknownQuestion
	}
	if err := a.writableLocked(); err != nil {
		return a.flags[qid], err
	}
	flagged := !a.flags[qid]
	if flagged {
		a.flags[qid] = true
	} else {
		delete(a.flags, qid)
	}
	return flagged, a.persistLocked(ctx)
}

// Writable returns the reason mutations are refused right now, or nil.
func (a *AnswerStore) Writable() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.writableLocked()
}

func (a *AnswerStore) writableLocked() error {
	if a.held != nil {
		return a.held
	}
	if !a.endsAt.IsZero() && !a.now().Before(a.endsAt) {
		return ErrTimeUp
	}
	return nil
}

// hold makes every mutation fail with err until hold(nil). Writes that got
// the lock first are complete when it returns.
func (a *AnswerStore) hold(err error) {
	a.mu.Lock()
	a.held = err
	a.mu.Unlock()
}

func (a *AnswerStore) Flagged(qid string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.flags[qid]
}

// Snapshot returns a copy of all non-empty answers.
func (a *AnswerStore) Snapshot() map[string]model.Answer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]model.Answer, len(a.answers))
	for qid, ans := range a.answers {
		if ans.Type == model.QuestionTypeDocumentUpload {
			ans = model.DocumentAnswer(ans.Paths)
		}
		out[qid] = ans
	}
	return out
}

// Entries serializes every question, answered or not, in the given order.
func (a *AnswerStore) Entries(questions []model.Question) []model.DraftAnswer {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries := make([]model.DraftAnswer, 0, len(questions))
	for _, q := range questions {
		ans, ok := a.answers[q.ID]
		if !ok {
			ans = model.Answer{Type: q.Type}
		}
		entries = append(entries, model.DraftAnswer{
			QuestionID:   q.ID,
			QuestionType: q.Type,
			Text:         ans.Encode(),
		})
	}
	return entries
}

// Submission builds the /draft and /submit body for identity.
func (a *AnswerStore) Submission(identity *model.Identity, questions []model.Question) *model.AnswerSubmission {
	return &model.AnswerSubmission{
		ParticipantID: identity.ParticipantID,
		ExamID:        identity.ExamID,
		Answers:       a.Entries(questions),
	}
}

// persistLocked writes the full snapshot. Caller holds a.mu.
func (a *AnswerStore) persistLocked(ctx context.Context) error {
	encoded := make(map[string]string, len(a.answers))
	for qid, ans := range a.answers {
		encoded[qid] = ans.Encode()
	}
	flags := make(map[string]bool, len(a.flags))
	for qid := range a.flags {
		flags[qid] = true
	}
	return a.progress.saveAnswers(ctx, encoded, flags, a.now())
}
