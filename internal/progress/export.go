package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/mathtrainer/internal/model"
)

// HistorySource lists every user's attempts, oldest first.
type HistorySource interface {
	ExportHistories(ctx context.Context) ([]model.UserHistory, error)
}

// Export collects every user's history and fills in the summaries.
func Export(ctx context.Context, src HistorySource, threshold float64) (model.HistoryExport, error) {
	histories, err := src.ExportHistories(ctx)
	if err != nil {
		return model.HistoryExport{}, fmt.Errorf("export histories: %w", err)
	}
	for i := range histories {
		histories[i].Summary = Summarize(histories[i].Username, histories[i].Attempts)
	}
	return model.HistoryExport{
		GeneratedAt: time.Now().UTC(),
		Threshold:   threshold,
		Users:       histories,
	}, nil
}
