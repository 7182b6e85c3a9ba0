package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/store"
)

// fakeBackend records every call the session makes to the exam backend.
type fakeBackend struct {
	mu sync.Mutex

	exam     *model.ExamDefinition
	fetchErr error
	token    string

	drafts    []*model.AnswerSubmission
	draftErr  error
	beacons   []*model.AnswerSubmission
	submits   []*model.AnswerSubmission
	submitErr error
	// submitGate, when set, blocks Submit until closed.
	submitGate chan struct{}

	uploads    []string
	uploadErrs map[string]error
}

func newFakeBackend(exam *model.ExamDefinition) *fakeBackend {
	return &fakeBackend{exam: exam, uploadErrs: map[string]error{}}
}

func (b *fakeBackend) SetToken(token string) {
	b.mu.Lock()
	b.token = token
	b.mu.Unlock()
}

func (b *fakeBackend) FetchExam(_ context.Context, examID string) (*model.ExamDefinition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	if b.exam == nil || b.exam.ID != examID {
		return nil, errors.New("exam not found")
	}
	cp := *b.exam
	return &cp, nil
}

func (b *fakeBackend) SaveDraft(_ context.Context, sub *model.AnswerSubmission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drafts = append(b.drafts, sub)
	return b.draftErr
}

func (b *fakeBackend) SaveDraftBeacon(sub *model.AnswerSubmission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.beacons = append(b.beacons, sub)
}

func (b *fakeBackend) Upload(_ context.Context, questionID, filename string, content io.Reader) (*model.UploadResult, error) {
	if _, err := io.Copy(io.Discard, content); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.uploadErrs[filename]; err != nil {
		return nil, err
	}
	b.uploads = append(b.uploads, filename)
	return &model.UploadResult{
		FilePath: fmt.Sprintf("uploads/p1/%s-%d-%s", questionID, len(b.uploads), filename),
		FileName: filename,
	}, nil
}

func (b *fakeBackend) Submit(_ context.Context, sub *model.AnswerSubmission) error {
	b.mu.Lock()
	b.submits = append(b.submits, sub)
	gate := b.submitGate
	err := b.submitErr
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (b *fakeBackend) counts() (drafts, beacons, submits int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.drafts), len(b.beacons), len(b.submits)
}

type closedErr struct{}

func (closedErr) Error() string       { return "api 409 ATTEMPT_CLOSED" }
func (closedErr) AttemptClosed() bool { return true }

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingNotifier keeps every participant notification.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(level Level, message string) {
	n.mu.Lock()
	n.messages = append(n.messages, string(level)+": "+message)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

var testNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

var testIdentity = model.Identity{ParticipantID: "p1", ExamID: "e1", Name: "Ayu", Token: "tok-p1"}

// newTestExam opens one hour before now and closes one hour after.
func newTestExam(now time.Time) *model.ExamDefinition {
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)
	return &model.ExamDefinition{
		ID:               "e1",
		Title:            "Fisika Dasar",
		StartDate:        start.Format("2006-01-02"),
		StartTime:        start.Format("15:04:05"),
		EndDate:          end.Format("2006-01-02"),
		EndTime:          end.Format("15:04:05"),
		DurationMinutes:  60,
		ShuffleQuestions: true,
		ShuffleOptions:   true,
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMultipleChoice, Prompt: "Satuan gaya?", Options: []model.Option{
				{ID: "a", Text: "Newton"}, {ID: "b", Text: "Joule"}, {ID: "c", Text: "Watt"}, {ID: "d", Text: "Pascal"},
			}},
			{ID: "q2", Type: model.QuestionTypeMultipleChoice, Prompt: "Satuan energi?", Options: []model.Option{
				{ID: "a", Text: "Newton"}, {ID: "b", Text: "Joule"}, {ID: "c", Text: "Watt"}, {ID: "d", Text: "Pascal"},
			}},
			{ID: "q3", Type: model.QuestionTypeMultipleChoice, Prompt: "Satuan daya?", Options: []model.Option{
				{ID: "a", Text: "Newton"}, {ID: "b", Text: "Joule"}, {ID: "c", Text: "Watt"}, {ID: "d", Text: "Pascal"},
			}},
			{ID: "q4", Type: model.QuestionTypeShortText, Prompt: "Nilai g di bumi?"},
			{ID: "q5", Type: model.QuestionTypeEssay, Prompt: "Jelaskan hukum Newton III."},
			{ID: "q6", Type: model.QuestionTypeDocumentUpload, Prompt: "Unggah laporan praktikum.", Document: &model.DocumentConstraints{
				AllowedTypes: []string{"pdf", ".PNG"},
				MaxSizeMB:    5,
				MaxCount:     3,
			}},
		},
	}
}

func seedIdentity(t *testing.T, st store.SessionStore) {
	t.Helper()
	id := testIdentity
	if err := SaveIdentity(context.Background(), st, &id); err != nil {
		t.Fatalf("save identity: %v", err)
	}
}

func newTestDeps(backend Backend, st store.SessionStore, clock *fakeClock, seed uint64) Deps {
	return Deps{
		Backend:       backend,
		Store:         st,
		Location:      time.UTC,
		Log:           zerolog.Nop(),
		Now:           clock.Now,
		Rand:          rand.New(rand.NewPCG(seed, seed+1)),
		DraftInterval: time.Hour,
		CountdownTick: 5 * time.Millisecond,
	}
}

func mustBootstrap(t *testing.T, deps Deps) *Session {
	t.Helper()
	s, err := Bootstrap(context.Background(), deps)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

func questionIDs(qs []model.Question) []string {
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids
}

func optionIDs(q model.Question) []string {
	ids := make([]string, len(q.Options))
	for i, o := range q.Options {
		ids[i] = o.ID
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
