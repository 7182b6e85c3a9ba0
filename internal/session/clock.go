package session

import (
	"context"
	"fmt"
	"time"

	"github.com/stemsi/exstem-participant/internal/model"
)

// Deadline is the participant's personal working window.
type Deadline struct {
	StartedAt time.Time
	EndsAt    time.Time
}

// Remaining returns the time left at now, never negative.
func (d Deadline) Remaining(now time.Time) time.Duration {
	rem := d.EndsAt.Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

// WindowResolver checks the exam access window and anchors the deadline.
type WindowResolver struct {
	loc      *time.Location
	progress *progressRepo
}

func newWindowResolver(loc *time.Location, progress *progressRepo) *WindowResolver {
	if loc == nil {
		loc = time.UTC
	}
	return &WindowResolver{loc: loc, progress: progress}
}

// ResolveDeadline validates the window at now and returns the deadline.
// The first successful call persists the start time; later calls, including
// after a restart, reuse it.
func (w *WindowResolver) ResolveDeadline(ctx context.Context, exam *model.ExamDefinition, now time.Time) (Deadline, error) {
	if exam.DurationMinutes <= 0 {
		return Deadline{}, ErrMissingDuration
	}

	start, end, err := exam.Window(w.loc)
	if err != nil {
		return Deadline{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}

	if now.Before(start) {
		return Deadline{}, fmt.Errorf("%w: opens at %s", ErrNotYetOpen, start.Format(time.RFC3339))
	}
	if now.After(end) {
		return Deadline{}, fmt.Errorf("%w: closed at %s", ErrWindowClosed, end.Format(time.RFC3339))
	}

	startedAt, err := w.progress.anchorStart(ctx, now)
	if err != nil {
		return Deadline{}, err
	}

	return Deadline{
		StartedAt: startedAt,
		EndsAt:    startedAt.Add(exam.Duration()),
	}, nil
}
