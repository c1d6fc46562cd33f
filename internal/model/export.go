package model

import "time"

// HistoryExport is the top-level JSON structure written by the export command.
type HistoryExport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Threshold   float64       `json:"threshold"`
	Users       []UserHistory `json:"users"`
}

// UserHistory holds one user's summary and full attempt history, oldest first.
type UserHistory struct {
	Username string    `json:"username"`
	Summary  Summary   `json:"summary"`
	Attempts []Attempt `json:"attempts"`
}
