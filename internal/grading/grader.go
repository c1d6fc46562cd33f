package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pavelanni/mathtrainer/internal/model"
	"github.com/pavelanni/mathtrainer/internal/store"
)

// DefaultThreshold is the minimum score counted as correct.
const DefaultThreshold = 0.6

// ErrUnknownExercise is returned when a submission names an exercise that does not exist.
var ErrUnknownExercise = errors.New("unknown exercise")

// AttemptStore is the persistence the Grader needs.
type AttemptStore interface {
	GetQuestion(ctx context.Context, exerciseID string) (model.Question, error)
	InsertAttempt(ctx context.Context, username string, a model.Attempt) (model.Attempt, error)
}

// Grader applies a Strategy and the threshold policy, then records the attempt.
type Grader struct {
	store     AttemptStore
	strategy  Strategy
	threshold float64
	recorder  Recorder
}

// New creates a Grader. A nil recorder discards observations.
func New(s AttemptStore, strategy Strategy, threshold float64, rec Recorder) *Grader {
	if rec == nil {
		rec = NoopRecorder
	}
	return &Grader{store: s, strategy: strategy, threshold: threshold, recorder: rec}
}

// Threshold returns the score at or above which an answer is correct.
func (g *Grader) Threshold() float64 { return g.threshold }

// Strategy returns the name of the configured strategy.
func (g *Grader) Strategy() model.GraderName { return g.strategy.Name() }

// Submit grades answer for the exercise and stores the attempt.
func (g *Grader) Submit(ctx context.Context, username, exerciseID, answer string) (model.GradeResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return model.GradeResult{}, fmt.Errorf("empty username: %w", model.ErrInvalidInput)
	}

	q, err := g.store.GetQuestion(ctx, exerciseID)
	if errors.Is(err, store.ErrNotFound) {
		return model.GradeResult{}, fmt.Errorf("%w: %s", ErrUnknownExercise, exerciseID)
	}
	if err != nil {
		return model.GradeResult{}, fmt.Errorf("resolve exercise: %w", err)
	}

	// A client that goes away does not cancel grading or the write.
	ctx = context.WithoutCancel(ctx)

	a, err := g.strategy.Grade(ctx, Submission{Question: q, Answer: answer})
	if err != nil {
		return model.GradeResult{}, fmt.Errorf("grade %s: %w", exerciseID, err)
	}
	score := roundScore(a.Score)
	correct := score >= g.threshold

	attempt, err := g.store.InsertAttempt(ctx, username, model.Attempt{
		ExerciseID: q.ExerciseID,
		Score:      score,
		Correct:    correct,
		Reasons:    strings.Join(a.Reasons, "; "),
		Hint:       a.Hint,
		Grader:     a.Grader,
	})
	if err != nil {
		return model.GradeResult{}, fmt.Errorf("record attempt: %w", err)
	}
	g.recorder.ObserveAttempt(q.Topic, a.Grader, correct)

	slog.Info("attempt graded",
		"username", username, "exercise_id", q.ExerciseID, "attempt_id", attempt.ID,
		"score", score, "correct", correct, "grader", a.Grader)

	return model.GradeResult{
		ExerciseID: q.ExerciseID,
		Topic:      q.Topic,
		Date:       q.Date,
		Score:      score,
		Correct:    correct,
		Reasons:    attempt.Reasons,
		Hint:       attempt.Hint,
	}, nil
}

func roundScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	s = math.Max(0, math.Min(1, s))
	return math.Round(s*1000) / 1000
}
