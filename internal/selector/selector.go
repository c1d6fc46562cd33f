// Package selector chooses which questions a user should practise next.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/pavelanni/mathtrainer/internal/model"
	"github.com/pavelanni/mathtrainer/internal/store"
)

// QuestionStore is the read side of the store used for selection.
type QuestionStore interface {
	GetQuestion(ctx context.Context, exerciseID string) (model.Question, error)
	ListQuestions(ctx context.Context, topic string) ([]model.Question, error)
	ListUnseenQuestions(ctx context.Context, username, topic string) ([]model.Question, error)
	ListSeenQuestions(ctx context.Context, username, topic string) ([]model.Question, error)
	ListDistinctTopics(ctx context.Context) ([]string, error)
}

// Selector picks questions, preferring ones the user has not attempted.
type Selector struct {
	store QuestionStore

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Selector.
type Option func(*Selector)

// WithRand makes selection reproducible. The generator is guarded by the Selector.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.rng = r }
}

// New creates a Selector.
func New(qs QuestionStore, opts ...Option) *Selector {
	s := &Selector{store: qs}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Next returns up to k unseen questions in random order. When the user has
// attempted everything it returns seen questions, least recently attempted first.
func (s *Selector) Next(ctx context.Context, username string, k int) ([]model.QuestionCard, error) {
	if k <= 0 {
		return []model.QuestionCard{}, nil
	}

	unseen, err := s.store.ListUnseenQuestions(ctx, username, "")
	if err != nil {
		return nil, fmt.Errorf("list unseen questions: %w", err)
	}
	picked := unseen
	if len(unseen) > 0 {
		s.shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	} else {
		seen, err := s.store.ListSeenQuestions(ctx, username, "")
		if err != nil {
			return nil, fmt.Errorf("list seen questions: %w", err)
		}
		if len(seen) > 0 {
			slog.Debug("all questions seen, repeating oldest", "username", username, "seen", len(seen))
		}
		picked = seen
	}
	if len(picked) > k {
		picked = picked[:k]
	}
	return cards(picked), nil
}

// Card returns a single question card.
func (s *Selector) Card(ctx context.Context, exerciseID string) (model.QuestionCard, error) {
	q, err := s.store.GetQuestion(ctx, exerciseID)
	if err != nil {
		return model.QuestionCard{}, err
	}
	return q.Card(), nil
}

// RandomByTopic returns one random question of the topic. With onlyUnseen the
// pick is restricted to unseen questions as long as any remain. An empty topic
// matches every question.
func (s *Selector) RandomByTopic(ctx context.Context, username, topic string, onlyUnseen bool) (model.QuestionCard, error) {
	var pool []model.Question
	if onlyUnseen {
		unseen, err := s.store.ListUnseenQuestions(ctx, username, topic)
		if err != nil {
			return model.QuestionCard{}, fmt.Errorf("list unseen questions: %w", err)
		}
		pool = unseen
	}
	if len(pool) == 0 {
		all, err := s.store.ListQuestions(ctx, topic)
		if err != nil {
			return model.QuestionCard{}, fmt.Errorf("list questions: %w", err)
		}
		pool = all
	}
	if len(pool) == 0 {
		return model.QuestionCard{}, fmt.Errorf("no question for topic %q: %w", topic, store.ErrNotFound)
	}
	return pool[s.intN(len(pool))].Card(), nil
}

// Topics returns the sorted distinct topic labels.
func (s *Selector) Topics(ctx context.Context) ([]string, error) {
	topics, err := s.store.ListDistinctTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

func (s *Selector) shuffle(n int, swap func(i, j int)) {
	if s.rng == nil {
		rand.Shuffle(n, swap)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(n, swap)
}

func (s *Selector) intN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func cards(qs []model.Question) []model.QuestionCard {
	out := make([]model.QuestionCard, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Card())
	}
	return out
}
