package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-participant/internal/config"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/store"
)

func TestBootstrapStartsWithFullDuration(t *testing.T) {
	st := store.NewMemoryStore()
	seedIdentity(t, st)
	s := mustBootstrap(t, newTestDeps(newFakeBackend(newTestExam(testNow)), st, newFakeClock(testNow), 1))

	if got := s.Remaining(); got != 3600*time.Second {
		t.Errorf("remaining = %v, want 3600s", got)
	}
	if len(s.Questions) != 6 {
		t.Errorf("questions = %d", len(s.Questions))
	}
	if q, ok := s.Question(1); !ok || q.ID != s.Questions[0].ID {
		t.Errorf("Question(1) = %+v, %v", q, ok)
	}
	if _, ok := s.Question(7); ok {
		t.Error("Question(7) should be out of range")
	}
}

func TestBootstrapPreconditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, st store.SessionStore, b *fakeBackend)
		want  error
	}{
		{"NoIdentity", func(t *testing.T, st store.SessionStore, b *fakeBackend) {}, ErrIdentityMissing},
		{"CorruptIdentity", func(t *testing.T, st store.SessionStore, b *fakeBackend) {
			_ = st.Set(context.Background(), config.CacheKey.LoginKey(), []byte("{"))
		}, ErrIdentityMissing},
		{"WindowClosed", func(t *testing.T, st store.SessionStore, b *fakeBackend) {
			seedIdentity(t, st)
			b.exam = newTestExam(testNow.Add(-3 * time.Hour))
		}, ErrWindowClosed},
		{"NotYetOpen", func(t *testing.T, st store.SessionStore, b *fakeBackend) {
			seedIdentity(t, st)
			b.exam = newTestExam(testNow.Add(3 * time.Hour))
		}, ErrNotYetOpen},
		{"MissingDuration", func(t *testing.T, st store.SessionStore, b *fakeBackend) {
			seedIdentity(t, st)
			b.exam.DurationMinutes = 0
		}, ErrMissingDuration},
		{"FetchFails", func(t *testing.T, st store.SessionStore, b *fakeBackend) {
			seedIdentity(t, st)
			b.fetchErr = errors.New("dial tcp: connection refused")
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			backend := newFakeBackend(newTestExam(testNow))
			tt.setup(t, st, backend)

			_, err := Bootstrap(context.Background(), newTestDeps(backend, st, newFakeClock(testNow), 1))
			var pre *PreconditionError
			if !errors.As(err, &pre) {
				t.Fatalf("err = %v, want *PreconditionError", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMultipleChoiceOrderAcrossMounts(t *testing.T) {
	st := store.NewMemoryStore()
	seedIdentity(t, st)
	exam := newTestExam(testNow)
	exam.Questions = exam.Questions[:3]
	backend := newFakeBackend(exam)

	first := mustBootstrap(t, newTestDeps(backend, st, newFakeClock(testNow), 42))
	second := mustBootstrap(t, newTestDeps(backend, st, newFakeClock(testNow.Add(time.Minute)), 1337))

	if !equalStrings(questionIDs(first.Questions), questionIDs(second.Questions)) {
		t.Errorf("order %v != %v", questionIDs(first.Questions), questionIDs(second.Questions))
	}
	for i := range first.Questions {
		if !equalStrings(optionIDs(first.Questions[i]), optionIDs(second.Questions[i])) {
			t.Errorf("options of %s reshuffled", first.Questions[i].ID)
		}
	}
}

func TestLateResumeSubmitsImmediately(t *testing.T) {
	st := store.NewMemoryStore()
	seedIdentity(t, st)
	exam := newTestExam(testNow)
	exam.DurationMinutes = 30
	backend := newFakeBackend(exam)
	clock := newFakeClock(testNow)

	mustBootstrap(t, newTestDeps(backend, st, clock, 1))

	// Resume 45 minutes later, still inside the window but past the deadline.
	clock.Advance(45 * time.Minute)
	s := mustBootstrap(t, newTestDeps(backend, st, clock, 1))
	if s.Remaining() != 0 {
		t.Fatalf("remaining = %v, want 0", s.Remaining())
	}

	s.Start(context.Background())
	defer s.Close()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("late resume did not auto-submit")
	}
	if _, _, n := backend.counts(); n != 1 {
		t.Errorf("submits = %d", n)
	}
}

func TestAutoSubmitIdentityLostIsFatal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedIdentity(t, st)
	clock := newFakeClock(testNow)

	fatal := make(chan error, 1)
	deps := newTestDeps(newFakeBackend(newTestExam(testNow)), st, clock, 1)
	deps.OnFatal = func(err error) { fatal <- err }
	s := mustBootstrap(t, deps)

	if err := st.Delete(ctx, config.CacheKey.LoginKey()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)
	s.Start(ctx)
	defer s.Close()

	select {
	case err := <-fatal:
		if !errors.Is(err, ErrIdentityLost) {
			t.Errorf("fatal err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFatal not called")
	}
}

func TestSavedAnswersForRemovedQuestionsAreIgnored(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedIdentity(t, st)

	p := model.SessionProgress{
		StartTimeMs: testNow.UnixMilli(),
		Answers:     map[string]string{"q1": "b", "gone": "x", "q6": "not-json"},
		Flags:       map[string]bool{"gone": true, "q2": true},
	}
	if err := store.SetJSON(ctx, st, config.CacheKey.ProgressKey("p1", "e1"), p); err != nil {
		t.Fatal(err)
	}

	s := mustBootstrap(t, newTestDeps(newFakeBackend(newTestExam(testNow)), st, newFakeClock(testNow), 1))
	snap := s.Answers.Snapshot()
	if len(snap) != 1 || snap["q1"].Value != "b" {
		t.Errorf("snapshot = %+v", snap)
	}
	if answered, flagged := s.Progress(); answered != 1 || flagged != 1 {
		t.Errorf("progress = %d answered, %d flagged", answered, flagged)
	}
}
