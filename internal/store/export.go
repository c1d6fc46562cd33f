package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/mathtrainer/internal/model"
)

// ExportHistories returns every user's attempt history, oldest attempt first.
// Summaries are left empty for the caller to fill.
func (s *Store) ExportHistories(ctx context.Context) ([]model.UserHistory, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	histories := make([]model.UserHistory, 0, len(users))
	for _, u := range users {
		attempts, err := s.AttemptHistory(ctx, u.Username)
		if err != nil {
			return nil, fmt.Errorf("attempts for %q: %w", u.Username, err)
		}
		histories = append(histories, model.UserHistory{
			Username: u.Username,
			Attempts: attempts,
		})
	}
	return histories, nil
}
