package grading

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/mathtrainer/internal/i18n"
	"github.com/pavelanni/mathtrainer/internal/model"
	"github.com/pavelanni/mathtrainer/internal/store/storetest"
)

func englishCtx(t *testing.T) context.Context {
	t.Helper()
	require.NoError(t, i18n.Init("en"))
	return i18n.WithLocalizer(context.Background(), i18n.NewLocalizer("en"))
}

func rieszSubmission(answer string) Submission {
	return Submission{
		Question: model.Question{
			ExerciseID: storetest.RieszExerciseID,
			Text:       storetest.RieszQuestion,
			Solution:   storetest.RieszSolution,
			Topic:      storetest.RieszTopic,
		},
		Answer: answer,
	}
}

func TestBaselineIdenticalAnswer(t *testing.T) {
	ctx := englishCtx(t)

	a, err := NewBaseline().Grade(ctx, rieszSubmission(storetest.RieszSolution))
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Score)
	assert.Equal(t, model.GraderBaseline, a.Grader)
	assert.Empty(t, a.Hint)
	assert.GreaterOrEqual(t, a.Score, DefaultThreshold)
}

func TestBaselineEmptyAnswer(t *testing.T) {
	ctx := englishCtx(t)

	a, err := NewBaseline().Grade(ctx, rieszSubmission("   "))
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, []string{"The answer is empty."}, a.Reasons)
	assert.NotEmpty(t, a.Hint)
	assert.Less(t, a.Score, DefaultThreshold)
}

func TestBaselineEmptyReference(t *testing.T) {
	ctx := englishCtx(t)
	sub := rieszSubmission("some answer")
	sub.Question.Solution = ""

	a, err := NewBaseline().Grade(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, []string{"No reference solution is available for this exercise."}, a.Reasons)
}

func TestBaselineIgnoresCaseAndAccents(t *testing.T) {
	ctx := englishCtx(t)

	plain, err := NewBaseline().Grade(ctx, rieszSubmission("bounded linear functional on a hilbert space"))
	require.NoError(t, err)
	accented, err := NewBaseline().Grade(ctx, rieszSubmission("BOUNDED Linéar FUNCTIONAL on a Hilbért space"))
	require.NoError(t, err)

	assert.Equal(t, plain.Score, accented.Score)
	assert.Greater(t, plain.Score, 0.0)
}

func TestBaselinePartialAnswer(t *testing.T) {
	ctx := englishCtx(t)

	a, err := NewBaseline().Grade(ctx, rieszSubmission("a linear functional"))
	require.NoError(t, err)
	assert.Greater(t, a.Score, 0.0)
	assert.Less(t, a.Score, 1.0)
	// Reference terms: bounded linear functional hilbert space equals unique.
	assert.Equal(t, []string{"Matched 2 of 7 key terms from the reference solution."}, a.Reasons)
	assert.Equal(t, "Review these ideas: bounded, hilbert, space, equals, unique.", a.Hint)
}

func TestBaselineUnrelatedAnswer(t *testing.T) {
	ctx := englishCtx(t)

	a, err := NewBaseline().Grade(ctx, rieszSubmission("I do not know"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Score)
}

func TestBaselineDeterministic(t *testing.T) {
	ctx := englishCtx(t)
	sub := rieszSubmission("every functional on a Hilbert space is an inner product with a unique vector")

	first, err := NewBaseline().Grade(ctx, sub)
	require.NoError(t, err)
	for range 10 {
		again, err := NewBaseline().Grade(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBaselineSpanishFeedback(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	ctx := i18n.WithLocalizer(context.Background(), i18n.NewLocalizer("es"))

	a, err := NewBaseline().Grade(ctx, rieszSubmission(""))
	require.NoError(t, err)
	assert.Equal(t, []string{"La respuesta está vacía."}, a.Reasons)
}

func TestTerms(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"stop words and single letters", "let x be a group of order 2", []string{"group", "order", "2"}},
		{"duplicates keep first position", "space hilbert space", []string{"space", "hilbert"}},
		{"spanish stop words", "todo espacio de hilbert es completo", []string{"espacio", "hilbert", "completo"}},
		{"punctuation splits", "f(x)=<x,y>", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, terms(normalize(tt.in)))
		})
	}
}

func TestOverlapScore(t *testing.T) {
	assert.Equal(t, 0.0, overlapScore(0, 3, 3))
	assert.Equal(t, 1.0, overlapScore(4, 4, 4))
	// P = 1, R = 0.5: F2 = 5*0.5 / (4 + 0.5).
	assert.Equal(t, 0.556, overlapScore(2, 2, 4))
}
