package grading

import (
	"context"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pavelanni/mathtrainer/internal/i18n"
	"github.com/pavelanni/mathtrainer/internal/model"
)

const (
	// beta weights recall over precision in the overlap score.
	beta         = 2.0
	maxHintTerms = 5
)

var stopWords = makeSet(
	// en
	"the", "an", "and", "or", "of", "to", "in", "on", "at", "for", "by", "with", "from",
	"is", "are", "was", "be", "been", "it", "its", "this", "that", "these", "those",
	"as", "if", "then", "so", "we", "there", "such", "which", "has", "have", "not",
	"every", "each", "any", "all", "some", "let", "than", "into", "also",
	// es
	"el", "la", "los", "las", "un", "una", "unos", "unas", "de", "del", "al", "en",
	"con", "por", "para", "que", "es", "son", "se", "su", "sus", "lo", "como", "si",
	"entonces", "todo", "toda", "todos", "cada", "este", "esta", "ese", "esa", "sea",
)

func makeSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Baseline scores an answer by key-term overlap with the reference solution.
// It is deterministic and needs no network.
type Baseline struct{}

// NewBaseline returns the lexical-overlap strategy.
func NewBaseline() Baseline { return Baseline{} }

// Name implements Strategy.
func (Baseline) Name() model.GraderName { return model.GraderBaseline }

// Grade implements Strategy.
func (Baseline) Grade(ctx context.Context, sub Submission) (Assessment, error) {
	a := Assessment{Grader: model.GraderBaseline}

	answer := normalize(sub.Answer)
	reference := normalize(sub.Question.Solution)

	switch {
	case strings.TrimSpace(answer) == "":
		a.Reasons = []string{i18n.T(ctx, "BaselineEmptyAnswer")}
		a.Hint = i18n.T(ctx, "BaselineHintEmpty")
		return a, nil
	case strings.TrimSpace(reference) == "":
		a.Reasons = []string{i18n.T(ctx, "BaselineNoReference")}
		return a, nil
	}

	refTerms := terms(reference)
	if strings.Join(strings.Fields(answer), " ") == strings.Join(strings.Fields(reference), " ") {
		a.Score = 1
		a.Reasons = []string{i18n.Tp(ctx, "BaselineMatched", len(refTerms), map[string]any{"Matched": len(refTerms)})}
		return a, nil
	}
	if len(refTerms) == 0 {
		a.Reasons = []string{i18n.T(ctx, "BaselineNoReference")}
		return a, nil
	}

	ansTerms := terms(answer)
	ansSet := makeSet(ansTerms...)

	var missing []string
	matched := 0
	for _, t := range refTerms {
		if _, ok := ansSet[t]; ok {
			matched++
		} else {
			missing = append(missing, t)
		}
	}

	a.Score = overlapScore(matched, len(ansTerms), len(refTerms))
	a.Reasons = []string{i18n.Tp(ctx, "BaselineMatched", len(refTerms), map[string]any{"Matched": matched})}
	if len(missing) > 0 {
		if len(missing) > maxHintTerms {
			missing = missing[:maxHintTerms]
		}
		a.Hint = i18n.Td(ctx, "BaselineHintMissing", map[string]any{"Terms": strings.Join(missing, ", ")})
	}
	return a, nil
}

// overlapScore is the F-beta measure of matched terms, rounded to 3 decimals.
func overlapScore(matched, answerTerms, referenceTerms int) float64 {
	if matched == 0 || answerTerms == 0 || referenceTerms == 0 {
		return 0
	}
	precision := float64(matched) / float64(answerTerms)
	recall := float64(matched) / float64(referenceTerms)
	b2 := beta * beta
	f := (1 + b2) * precision * recall / (b2*precision + recall)
	return math.Round(f*1000) / 1000
}

// normalize strips diacritics and folds case.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// terms returns the distinct key terms of normalized text in first-appearance order.
func terms(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		if utf8.RuneCountInString(f) == 1 && !unicode.IsDigit([]rune(f)[0]) {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
