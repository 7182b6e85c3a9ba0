package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/model"
)

type draftSender interface {
	SaveDraft(ctx context.Context, sub *model.AnswerSubmission) error
	SaveDraftBeacon(sub *model.AnswerSubmission)
}

// submissionGuard reports whether the final submission has begun. Drafts
// must not race the authoritative write.
type submissionGuard interface {
	SubmissionStarted() bool
	Done() <-chan struct{}
}

// DraftSyncer pushes the current answer set to the backend. It is best
// effort: failures are logged and superseded by the next tick.
type DraftSyncer struct {
	sender    draftSender
	answers   *AnswerStore
	identity  *model.Identity
	questions []model.Question
	guard     submissionGuard
	interval  time.Duration
	timeout   time.Duration
	log       zerolog.Logger
}

func newDraftSyncer(sender draftSender, answers *AnswerStore, identity *model.Identity, questions []model.Question, guard submissionGuard, interval, timeout time.Duration, log zerolog.Logger) *DraftSyncer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &DraftSyncer{
		sender:    sender,
		answers:   answers,
		identity:  identity,
		questions: questions,
		guard:     guard,
		interval:  interval,
		timeout:   timeout,
		log:       log.With().Str("component", "draft_sync").Logger(),
	}
}

// Run sends a draft every interval until ctx is cancelled or the exam is
// submitted. Ticks during a running submission are skipped; if it fails,
// syncing carries on. Call in a goroutine.
func (d *DraftSyncer) Run(ctx context.Context) {
	d.log.Debug().Dur("interval", d.interval).Msg("Draft sync started")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Debug().Msg("Draft sync stopped")
			return
		case <-d.guard.Done():
			d.log.Debug().Msg("Exam submitted, stopping draft sync")
			return
		case <-ticker.C:
			if d.guard.SubmissionStarted() {
				continue
			}
			_ = d.SyncNow(ctx)
		}
	}
}

// SyncNow sends one draft. The error is returned for callers that care;
// Run ignores it.
func (d *DraftSyncer) SyncNow(ctx context.Context) error {
	if d.guard.SubmissionStarted() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	sub := d.answers.Submission(d.identity, d.questions)
	if err := d.sender.SaveDraft(ctx, sub); err != nil {
		d.log.Warn().Err(err).Str("exam_id", d.identity.ExamID).Msg("Draft sync failed")
		return err
	}
	d.log.Debug().Int("answers", len(sub.Answers)).Msg("Draft synced")
	return nil
}

// Flush hands the current draft to the backend's detached delivery. It is
// used on shutdown, when the session context is already gone.
func (d *DraftSyncer) Flush() {
	if d.guard.SubmissionStarted() {
		return
	}
	d.sender.SaveDraftBeacon(d.answers.Submission(d.identity, d.questions))
}
