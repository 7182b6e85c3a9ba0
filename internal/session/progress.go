package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/store"
)

// progressRepo owns the persisted SessionProgress of one participant+exam.
// All writes go through it so the start anchor is never overwritten.
type progressRepo struct {
	mu    sync.Mutex
	store store.SessionStore
	key   string
	log   zerolog.Logger
}

func newProgressRepo(s store.SessionStore, key string, log zerolog.Logger) *progressRepo {
	return &progressRepo{store: s, key: key, log: log}
}

// load returns the persisted progress, or an empty one when none exists.
// Unreadable progress is treated as absent.
func (r *progressRepo) load(ctx context.Context) (*model.SessionProgress, error) {
	raw, err := r.store.Get(ctx, r.key)
	if errors.Is(err, store.ErrNotFound) {
		return emptyProgress(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	var p model.SessionProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		r.log.Warn().Err(err).Int("bytes", len(raw)).Msg("Discarding unreadable progress")
		return emptyProgress(), nil
	}
	if p.Answers == nil {
		p.Answers = map[string]string{}
	}
	if p.Flags == nil {
		p.Flags = map[string]bool{}
	}
	return &p, nil
}

func emptyProgress() *model.SessionProgress {
	return &model.SessionProgress{Answers: map[string]string{}, Flags: map[string]bool{}}
}

// anchorStart returns the persisted start time, writing now first if there
// is none yet.
func (r *progressRepo) anchorStart(ctx context.Context, now time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if p.Started() {
		return p.StartedAt(), nil
	}

	p.StartTimeMs = now.UnixMilli()
	p.LastUpdated = p.StartTimeMs
	if err := store.SetJSON(ctx, r.store, r.key, p); err != nil {
		return time.Time{}, fmt.Errorf("persist start time: %w", err)
	}
	return p.StartedAt(), nil
}

// saveAnswers replaces answers and flags, keeping the persisted start time.
func (r *progressRepo) saveAnswers(ctx context.Context, answers map[string]string, flags map[string]bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.load(ctx)
	if err != nil {
		return err
	}
	p.Answers = answers
	p.Flags = flags
	p.LastUpdated = now.UnixMilli()
	if err := store.SetJSON(ctx, r.store, r.key, p); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	return nil
}
