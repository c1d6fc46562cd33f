// Package storetest provides in-memory stores seeded with reference data for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/pavelanni/mathtrainer/internal/model"
	"github.com/pavelanni/mathtrainer/internal/store"
)

const (
	RieszExamID     = "General_2025-08-29"
	RieszExerciseID = "General_2025-08-29_Exercise_1"
	RieszQuestion   = "State the Riesz representation theorem."
	RieszSolution   = "Every bounded linear functional on a Hilbert space equals <·,y> for a unique y."
	RieszTopic      = "linear functional"
)

// New returns an empty in-memory store closed at test cleanup.
func New(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("storetest.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Import loads a bundle into the store or fails the test.
func Import(t testing.TB, s *store.Store, b model.QuestionBundle) {
	t.Helper()
	if err := s.ImportBundle(context.Background(), b); err != nil {
		t.Fatalf("storetest.Import: %v", err)
	}
}

// RieszBundle is the single-question fixture used across packages.
func RieszBundle() model.QuestionBundle {
	return model.QuestionBundle{
		Exams: []model.Exam{{ID: RieszExamID, Type: "General", Date: "2025-08-29", Year: 2025}},
		Questions: []model.Question{{
			ExerciseID: RieszExerciseID,
			ExamID:     RieszExamID,
			Text:       RieszQuestion,
			Solution:   RieszSolution,
			Topic:      RieszTopic,
		}},
	}
}

// MixedBundle has two exams and five questions over three topics.
func MixedBundle() model.QuestionBundle {
	return model.QuestionBundle{
		Exams: []model.Exam{
			{ID: "General_2024-01-15", Type: "General", Date: "2024-01-15", Year: 2024},
			{ID: "Analysis_2024-06-01", Type: "Analysis", Date: "2024-06-01", Year: 2024},
		},
		Questions: []model.Question{
			{ExerciseID: "G1", ExamID: "General_2024-01-15", Text: "Define a group.", Solution: "A set with an associative binary operation, an identity element and inverses.", Topic: "algebra"},
			{ExerciseID: "G2", ExamID: "General_2024-01-15", Text: "Define a ring.", Solution: "An abelian group under addition with an associative distributive multiplication.", Topic: "algebra"},
			{ExerciseID: "G3", ExamID: "General_2024-01-15", Text: "State Lagrange's theorem.", Solution: "The order of a subgroup divides the order of a finite group.", Topic: "algebra"},
			{ExerciseID: "A1", ExamID: "Analysis_2024-06-01", Text: "State the Banach fixed point theorem.", Solution: "A contraction on a complete metric space has a unique fixed point.", Topic: "metric spaces"},
			{ExerciseID: "A2", ExamID: "Analysis_2024-06-01", Text: "Define uniform continuity.", Solution: "For every epsilon there is a delta working for all points simultaneously.", Topic: "continuity"},
		},
	}
}

// Seeded returns an in-memory store holding both fixtures.
func Seeded(t testing.TB) *store.Store {
	t.Helper()
	s := New(t)
	Import(t, s, RieszBundle())
	Import(t, s, MixedBundle())
	return s
}

// RecordAttempt inserts an attempt directly, bypassing grading.
func RecordAttempt(t testing.TB, s *store.Store, username, exerciseID string, score float64, correct bool) model.Attempt {
	t.Helper()
	a, err := s.InsertAttempt(context.Background(), username, model.Attempt{
		ExerciseID: exerciseID,
		Score:      score,
		Correct:    correct,
		Grader:     model.GraderBaseline,
	})
	if err != nil {
		t.Fatalf("storetest.RecordAttempt: %v", err)
	}
	return a
}
