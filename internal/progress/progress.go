// Package progress turns a user's attempt history into summaries.
package progress

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pavelanni/mathtrainer/internal/model"
)

// HistoryStore is the read side of the store used for progress reports.
type HistoryStore interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	AttemptHistory(ctx context.Context, username string) ([]model.Attempt, error)
	ListRecentAttempts(ctx context.Context, username string, limit int) ([]model.Attempt, error)
}

// Aggregator computes summaries from stored attempts.
type Aggregator struct {
	store HistoryStore
}

// New creates an Aggregator.
func New(hs HistoryStore) *Aggregator {
	return &Aggregator{store: hs}
}

// Summary aggregates every attempt of the user. Unknown users get a zero summary.
func (a *Aggregator) Summary(ctx context.Context, username string) (model.Summary, error) {
	u, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return model.Summary{}, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return Summarize(username, nil), nil
	}
	history, err := a.store.AttemptHistory(ctx, username)
	if err != nil {
		return model.Summary{}, fmt.Errorf("attempt history: %w", err)
	}
	return Summarize(username, history), nil
}

// Recent returns up to limit attempts, newest first.
func (a *Aggregator) Recent(ctx context.Context, username string, limit int) ([]model.Attempt, error) {
	if limit <= 0 {
		return []model.Attempt{}, nil
	}
	u, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return []model.Attempt{}, nil
	}
	attempts, err := a.store.ListRecentAttempts(ctx, username, limit)
	if err != nil {
		return nil, fmt.Errorf("recent attempts: %w", err)
	}
	return attempts, nil
}

// Summarize builds a summary from attempts in submission order.
func Summarize(username string, attempts []model.Attempt) model.Summary {
	s := model.Summary{Username: username, Topics: []model.TopicSummary{}}
	if len(attempts) == 0 {
		return s
	}

	var (
		scoreSum  float64
		run       int
		exercises = make(map[string]struct{})
		byTopic   = make(map[string]*model.TopicSummary)
	)
	for _, at := range attempts {
		s.TotalAttempts++
		scoreSum += at.Score
		exercises[at.ExerciseID] = struct{}{}

		if at.Correct {
			s.Correct++
			run++
			s.BestStreak = max(s.BestStreak, run)
		} else {
			run = 0
		}

		ts, ok := byTopic[at.Topic]
		if !ok {
			ts = &model.TopicSummary{Topic: at.Topic}
			byTopic[at.Topic] = ts
		}
		ts.Attempts++
		if at.Correct {
			ts.Correct++
		}
	}
	s.CurrentStreak = run
	s.UniqueExercises = len(exercises)
	s.Accuracy = ratio(s.Correct, s.TotalAttempts)
	s.AverageScore = round3(scoreSum / float64(s.TotalAttempts))

	last := attempts[len(attempts)-1].Timestamp
	s.LastAttemptAt = &last

	for _, ts := range byTopic {
		ts.Accuracy = ratio(ts.Correct, ts.Attempts)
		s.Topics = append(s.Topics, *ts)
	}
	sort.Slice(s.Topics, func(i, j int) bool { return s.Topics[i].Topic < s.Topics[j].Topic })
	return s
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round3(float64(n) / float64(d))
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
