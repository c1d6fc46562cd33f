// Package grading scores free-text answers and records the resulting attempts.
package grading

import (
	"context"
	"log/slog"
	"time"

	"github.com/pavelanni/mathtrainer/internal/model"
)

// Submission is one answer to grade.
type Submission struct {
	Question model.Question
	Answer   string
}

// Assessment is a strategy's verdict before the threshold policy is applied.
type Assessment struct {
	Score   float64
	Reasons []string
	Hint    string
	Grader  model.GraderName
}

// Strategy grades a single submission.
type Strategy interface {
	Name() model.GraderName
	Grade(ctx context.Context, sub Submission) (Assessment, error)
}

// Recorder receives grading observations. The metrics package implements it.
type Recorder interface {
	ObserveGrading(grader model.GraderName, d time.Duration)
	ObserveFallback()
	ObserveAttempt(topic string, grader model.GraderName, correct bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveGrading(model.GraderName, time.Duration) {}
func (noopRecorder) ObserveFallback()                               {}
func (noopRecorder) ObserveAttempt(string, model.GraderName, bool)  {}

// NoopRecorder discards every observation.
var NoopRecorder Recorder = noopRecorder{}

// Fallback grades with Primary and falls back to Secondary on any error.
type Fallback struct {
	Primary   Strategy
	Secondary Strategy
	Recorder  Recorder
}

// Name reports the primary strategy.
func (f Fallback) Name() model.GraderName { return f.Primary.Name() }

// Grade implements Strategy.
func (f Fallback) Grade(ctx context.Context, sub Submission) (Assessment, error) {
	a, err := f.Primary.Grade(ctx, sub)
	if err == nil {
		return a, nil
	}
	slog.Warn("grading delegate unavailable, using fallback",
		"primary", f.Primary.Name(), "fallback", f.Secondary.Name(),
		"exercise_id", sub.Question.ExerciseID, "error", err)
	if f.Recorder != nil {
		f.Recorder.ObserveFallback()
	}
	return f.Secondary.Grade(ctx, sub)
}

type instrumented struct {
	Strategy
	rec Recorder
}

// Instrument reports the latency of every Grade call to rec.
func Instrument(s Strategy, rec Recorder) Strategy {
	if rec == nil {
		return s
	}
	return instrumented{Strategy: s, rec: rec}
}

func (i instrumented) Grade(ctx context.Context, sub Submission) (Assessment, error) {
	start := time.Now()
	a, err := i.Strategy.Grade(ctx, sub)
	i.rec.ObserveGrading(i.Strategy.Name(), time.Since(start))
	return a, err
}
