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

func loadProgress(t *testing.T, st store.SessionStore) model.SessionProgress {
	t.Helper()
	var p model.SessionProgress
	if err := store.GetJSON(context.Background(), st, config.CacheKey.ProgressKey("p1", "e1"), &p); err != nil {
		t.Fatalf("load progress: %v", err)
	}
	return p
}

func TestAnswerSurvivesReload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedIdentity(t, st)
	backend := newFakeBackend(newTestExam(testNow))
	clock := newFakeClock(testNow)

	s := mustBootstrap(t, newTestDeps(backend, st, clock, 1))
	if err := s.Answers.SetAnswer(ctx, "q1", model.OptionAnswer("a")); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if _, err := s.Answers.ToggleFlag(ctx, "q4"); err != nil {
		t.Fatalf("toggle flag: %v", err)
	}

	clock.Advance(3 * time.Minute)
	reloaded := mustBootstrap(t, newTestDeps(backend, st, clock, 2))

	ans, ok := reloaded.Answers.Answer("q1")
	if !ok || ans.Value != "a" || ans.Type != model.QuestionTypeMultipleChoice {
		t.Errorf("q1 after reload = %+v, %v", ans, ok)
	}
	if !reloaded.Answers.Flagged("q4") {
		t.Error("q4 flag lost after reload")
	}
	if reloaded.Deadline != s.Deadline {
		t.Errorf("deadline moved: %+v != %+v", reloaded.Deadline, s.Deadline)
	}
}

func TestAnswerMutationsPersistSynchronously(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedIdentity(t, st)
	s := mustBootstrap(t, newTestDeps(newFakeBackend(newTestExam(testNow)), st, newFakeClock(testNow), 1))
	start := loadProgress(t, st).StartTimeMs

	steps := []struct {
		name  string
		apply func() error
		check func(p model.SessionProgress) bool
	}{
		{"SetText", func() error { return s.Answers.SetAnswer(ctx, "q4", model.TextAnswer(model.QuestionTypeShortText, "9.8")) },
			func(p model.SessionProgress) bool { return p.Answers["q4"] == "9.8" }},
		{"OverwriteText", func() error { return s.Answers.SetAnswer(ctx, "q4", model.TextAnswer(model.QuestionTypeShortText, "9.81")) },
			func(p model.SessionProgress) bool { return p.Answers["q4"] == "9.81" }},
		{"Flag", func() error { _, err := s.Answers.ToggleFlag(ctx, "q5"); return err },
			func(p model.SessionProgress) bool { return p.Flags["q5"] }},
		{"Unflag", func() error { _, err := s.Answers.ToggleFlag(ctx, "q5"); return err },
			func(p model.SessionProgress) bool { return !p.Flags["q5"] }},
		{"Clear", func() error { return s.Answers.ClearAnswer(ctx, "q4") },
			func(p model.SessionProgress) bool { _, ok := p.Answers["q4"]; return !ok }},
	}

	for _, step := range steps {
		if err := step.apply(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		p := loadProgress(t, st)
		if !step.check(p) {
			t.Errorf("%s not persisted: %+v", step.name, p)
		}
		if p.StartTimeMs != start {
			t.Errorf("%s overwrote startTimeMs: %d != %d", step.name, p.StartTimeMs, start)
		}
	}
}

func TestAnswerUnknownQuestion(t *testing.T) {
	st := store.NewMemoryStore()
	seedIdentity(t, st)
	s := mustBootstrap(t, newTestDeps(newFakeBackend(newTestExam(testNow)), st, newFakeClock(testNow), 1))

	err := s.Answers.SetAnswer(context.Background(), "nope", model.OptionAnswer("a"))
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("err = %v", err)
	}
}

func TestEntriesCoverEveryQuestion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedIdentity(t, st)
	s := mustBootstrap(t, newTestDeps(newFakeBackend(newTestExam(testNow)), st, newFakeClock(testNow), 1))

	if err := s.Answers.SetAnswer(ctx, "q5", model.TextAnswer(model.QuestionTypeEssay, "Aksi = reaksi")); err != nil {
		t.Fatal(err)
	}

	entries := s.Answers.Entries(s.Questions)
	if len(entries) != len(s.Questions) {
		t.Fatalf("entries = %d, questions = %d", len(entries), len(s.Questions))
	}
	for i, e := range entries {
		if e.QuestionID != s.Questions[i].ID || e.QuestionType != s.Questions[i].Type {
			t.Errorf("entry %d = %+v", i, e)
		}
		switch e.QuestionID {
		case "q5":
			if e.Text != "Aksi = reaksi" {
				t.Errorf("q5 text = %q", e.Text)
			}
		case "q6":
			if e.Text != "[]" {
				t.Errorf("empty document answer = %q, want []", e.Text)
			}
		default:
			if e.Text != "" {
				t.Errorf("%s text = %q, want empty", e.QuestionID, e.Text)
			}
		}
	}
}

func TestAnswersLockedAtDeadline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedIdentity(t, st)
	backend := newFakeBackend(newTestExam(testNow))
	clock := newFakeClock(testNow)
	s := mustBootstrap(t, newTestDeps(backend, st, clock, 1))

	if err := s.Answers.SetAnswer(ctx, "q1", model.OptionAnswer("a")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Hour)

	if err := s.Answers.Writable(); !errors.Is(err, ErrTimeUp) {
		t.Fatalf("Writable = %v", err)
	}
	if err := s.Answers.SetAnswer(ctx, "q1", model.OptionAnswer("b")); !errors.Is(err, ErrTimeUp) {
		t.Errorf("SetAnswer = %v", err)
	}
	if err := s.Answers.ClearAnswer(ctx, "q1"); !errors.Is(err, ErrTimeUp) {
		t.Errorf("ClearAnswer = %v", err)
	}
	if flagged, err := s.Answers.ToggleFlag(ctx, "q2"); !errors.Is(err, ErrTimeUp) || flagged {
		t.Errorf("ToggleFlag = %v, %v", flagged, err)
	}
	if _, err := s.Documents.AddFiles(ctx, "q6", []FileInput{BytesFile("a.pdf", []byte("a"))}); !errors.Is(err, ErrTimeUp) {
		t.Errorf("AddFiles = %v", err)
	}
	if ans, _ := s.Answers.Answer("q1"); ans.Value != "a" {
		t.Errorf("q1 changed after deadline: %q", ans.Value)
	}

	// Submitting stays possible.
	_ = s.Submission.RequestSubmit()
	if err := s.Submission.Confirm(ctx); err != nil {
		t.Fatalf("confirm after deadline: %v", err)
	}
}
