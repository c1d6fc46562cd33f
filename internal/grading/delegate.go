package grading

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/mathtrainer/internal/i18n"
	"github.com/pavelanni/mathtrainer/internal/llm"
	"github.com/pavelanni/mathtrainer/internal/model"
)

// Answerer is the language-model client a Delegate calls.
type Answerer interface {
	GradeAnswer(ctx context.Context, question model.Question, answer, language string) (*llm.GradeResult, error)
}

// Delegate grades through an external language model.
type Delegate struct {
	client  Answerer
	timeout time.Duration
}

// NewDelegate returns a strategy that calls client, bounded by timeout when positive.
func NewDelegate(client Answerer, timeout time.Duration) Delegate {
	return Delegate{client: client, timeout: timeout}
}

// Name implements Strategy.
func (Delegate) Name() model.GraderName { return model.GraderLLM }

// Grade implements Strategy.
func (d Delegate) Grade(ctx context.Context, sub Submission) (Assessment, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	res, err := d.client.GradeAnswer(ctx, sub.Question, sub.Answer, i18n.T(ctx, "LanguageName"))
	if err != nil {
		return Assessment{}, fmt.Errorf("delegate grade %s: %w", sub.Question.ExerciseID, err)
	}
	return Assessment{
		Score:   res.Score,
		Reasons: res.Reasons,
		Hint:    res.Hint,
		Grader:  model.GraderLLM,
	}, nil
}
