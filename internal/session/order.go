package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/config"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/store"
)

// Randomizer produces the per-participant question and option order. Orders
// are generated once, persisted, and reused on every restart.
type Randomizer struct {
	store         store.SessionStore
	participantID string
	examID        string
	log           zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomizer creates a Randomizer. A nil rng gets a time-seeded source.
func NewRandomizer(s store.SessionStore, participantID, examID string, rng *rand.Rand, log zerolog.Logger) *Randomizer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return &Randomizer{
		store:         s,
		participantID: participantID,
		examID:        examID,
		rng:           rng,
		log:           log,
	}
}

// QuestionOrder returns the question ids in presentation order.
func (r *Randomizer) QuestionOrder(ctx context.Context, exam *model.ExamDefinition) ([]string, error) {
	serverOrder := make([]string, len(exam.Questions))
	for i, q := range exam.Questions {
		serverOrder[i] = q.ID
	}

	key := config.CacheKey.QuestionOrderKey(r.participantID, r.examID)
	saved, found, err := r.loadOrder(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return reconcileQuestionOrder(saved, serverOrder), nil
	}

	if !exam.ShuffleQuestions {
		return serverOrder, nil
	}

	order := r.shuffle(serverOrder)
	if err := store.SetJSON(ctx, r.store, key, order); err != nil {
		return nil, fmt.Errorf("persist question order: %w", err)
	}
	return order, nil
}

// OptionOrder returns the option ids of q in presentation order.
func (r *Randomizer) OptionOrder(ctx context.Context, exam *model.ExamDefinition, q *model.Question) ([]string, error) {
	serverOrder := make([]string, len(q.Options))
	for i, o := range q.Options {
		serverOrder[i] = o.ID
	}
	if q.Type != model.QuestionTypeMultipleChoice || !exam.ShuffleOptions {
		return serverOrder, nil
	}

	key := config.CacheKey.OptionOrderKey(r.participantID, r.examID, q.ID)
	saved, found, err := r.loadOrder(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		if !samePermutation(saved, serverOrder) {
			// Content changed since the order was frozen: show server order
			// and leave the saved order alone.
			r.log.Warn().Str("question_id", q.ID).Msg("Saved option order no longer matches options, using server order")
			return serverOrder, nil
		}
		return saved, nil
	}

	order := r.shuffle(serverOrder)
	if err := store.SetJSON(ctx, r.store, key, order); err != nil {
		return nil, fmt.Errorf("persist option order: %w", err)
	}
	return order, nil
}

// Arrange returns the exam's questions in presentation order, each with its
// options permuted. The definition itself is left untouched.
func (r *Randomizer) Arrange(ctx context.Context, exam *model.ExamDefinition) ([]model.Question, error) {
	order, err := r.QuestionOrder(ctx, exam)
	if err != nil {
		return nil, err
	}

	arranged := make([]model.Question, 0, len(order))
	for _, id := range order {
		src, ok := exam.QuestionByID(id)
		if !ok {
			continue
		}
		q := *src

		optionOrder, err := r.OptionOrder(ctx, exam, src)
		if err != nil {
			return nil, err
		}
		if len(src.Options) > 0 {
			q.Options = make([]model.Option, 0, len(optionOrder))
			for _, oid := range optionOrder {
				if o, ok := src.OptionByID(oid); ok {
					q.Options = append(q.Options, o)
				}
			}
		}
		arranged = append(arranged, q)
	}
	return arranged, nil
}

func (r *Randomizer) loadOrder(ctx context.Context, key string) ([]string, bool, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load order: %w", err)
	}

	var order []string
	if err := json.Unmarshal(raw, &order); err != nil {
		// Present but unreadable: regenerate.
		r.log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable order")
		return nil, false, nil
	}
	return order, true, nil
}

// shuffle returns a Fisher–Yates permutation of ids.
func (r *Randomizer) shuffle(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	r.mu.Lock()
	r.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	r.mu.Unlock()
	return out
}

// reconcileQuestionOrder keeps the saved order, drops ids the exam no longer
// has, and appends questions added after the order was frozen.
func reconcileQuestionOrder(saved, current []string) []string {
	present := make(map[string]bool, len(current))
	for _, id := range current {
		present[id] = true
	}

	out := make([]string, 0, len(current))
	seen := make(map[string]bool, len(current))
	for _, id := range saved {
		if present[id] && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	for _, id := range current {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// samePermutation reports whether a and b hold the same ids.
func samePermutation(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, id := range a {
		counts[id]++
	}
	for _, id := range b {
		counts[id]--
		if counts[id] < 0 {
			return false
		}
	}
	return true
}
