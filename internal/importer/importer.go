// Package importer loads exams and questions from JSON bundle files.
package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/mathtrainer/internal/model"
)

// ErrInvalidBundle marks a file that does not parse or validate.
var ErrInvalidBundle = errors.New("invalid question bundle")

// Store is the persistence the importer needs.
type Store interface {
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, hash string) error
	ImportBundle(ctx context.Context, b model.QuestionBundle) error
}

// Result describes one imported file.
type Result struct {
	Path      string `json:"path"`
	Exams     int    `json:"exams"`
	Questions int    `json:"questions"`
	Skipped   bool   `json:"skipped"`
}

// Importer upserts bundles, skipping files whose content has not changed.
type Importer struct {
	store    Store
	validate *validator.Validate
}

// New creates an Importer.
func New(s Store) *Importer {
	return &Importer{store: s, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// ImportFiles imports each path in order and stops at the first failure.
func (im *Importer) ImportFiles(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		res, err := im.ImportFile(ctx, p)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ImportFile reads and imports one bundle file.
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Path: path}, fmt.Errorf("read %s: %w", path, err)
	}
	return im.Import(ctx, path, data)
}

// Import imports bundle data recorded under name.
func (im *Importer) Import(ctx context.Context, name string, data []byte) (Result, error) {
	res := Result{Path: name}
	hash := sha256sum(data)

	storedHash, err := im.store.GetImportedFileHash(ctx, name)
	if err != nil {
		return res, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if storedHash == hash {
		slog.Info("questions file unchanged, skipping", "path", name)
		res.Skipped = true
		return res, nil
	}
	if storedHash != "" {
		slog.Warn("questions file changed since last import, updating", "path", name)
	}

	b, err := im.Parse(data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", name, err)
	}
	if err := im.store.ImportBundle(ctx, b); err != nil {
		return res, fmt.Errorf("import %s: %w", name, err)
	}
	if err := im.store.SetImportedFileHash(ctx, name, hash); err != nil {
		return res, fmt.Errorf("record import for %s: %w", name, err)
	}

	res.Exams, res.Questions = len(b.Exams), len(b.Questions)
	slog.Info("imported questions", "path", name, "exams", res.Exams, "questions", res.Questions)
	return res, nil
}

// Parse decodes and validates a bundle. Unknown fields are rejected.
func (im *Importer) Parse(data []byte) (model.QuestionBundle, error) {
	var b model.QuestionBundle
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return b, fmt.Errorf("%w: parse: %w", ErrInvalidBundle, err)
	}
	if err := im.validate.Struct(b); err != nil {
		return b, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}

	exams := make(map[string]bool, len(b.Exams))
	for _, e := range b.Exams {
		exams[e.ID] = true
	}
	seen := make(map[string]bool, len(b.Questions))
	for _, q := range b.Questions {
		if seen[q.ExerciseID] {
			return b, fmt.Errorf("%w: duplicate exercise_id %q", ErrInvalidBundle, q.ExerciseID)
		}
		seen[q.ExerciseID] = true
		if len(b.Exams) > 0 && !exams[q.ExamID] {
			slog.Debug("question references an exam outside the bundle", "exercise_id", q.ExerciseID, "exam_id", q.ExamID)
		}
	}
	return b, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
