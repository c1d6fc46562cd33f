package model

import (
	"errors"
	"time"
)

// ErrInvalidInput marks a request the caller can fix (empty username, bad parameters).
var ErrInvalidInput = errors.New("invalid input")

// GraderName identifies the strategy that produced a score.
type GraderName string

const (
	GraderBaseline GraderName = "baseline"
	GraderLLM      GraderName = "llm"
)

// User is a trainee, created implicitly the first time a username is seen.
type User struct {
	ID       int64  `json:"user_id"`
	Username string `json:"username"`
}

// Exam is immutable reference data grouping questions.
type Exam struct {
	ID   string `json:"exam_id" validate:"required"`
	Type string `json:"exam_type"`
	Date string `json:"date"`
	Year int    `json:"year" validate:"gte=0"`
}

// Question is a single exercise. Exam fields are joined in on read.
type Question struct {
	ExerciseID string `json:"exercise_id" validate:"required"`
	ExamID     string `json:"exam_id" validate:"required"`
	Text       string `json:"question" validate:"required"`
	Solution   string `json:"solution"`
	Topic      string `json:"topic"`

	ExamType string `json:"-"`
	Date     string `json:"-"`
	Year     int    `json:"-"`
}

// Card converts a question into the client-facing card. The solution is never exposed.
func (q Question) Card() QuestionCard {
	return QuestionCard{
		ExerciseID: q.ExerciseID,
		Question:   q.Text,
		Topic:      q.Topic,
		Date:       q.Date,
		ExamType:   q.ExamType,
	}
}

// QuestionCard is what the selector hands out.
type QuestionCard struct {
	ExerciseID string `json:"exercise_id"`
	Question   string `json:"question"`
	Topic      string `json:"topic,omitempty"`
	Date       string `json:"date,omitempty"`
	ExamType   string `json:"exam_type,omitempty"`
}

// Attempt is a single graded submission. Attempts are append-only.
type Attempt struct {
	ID         int64      `json:"attempt_id"`
	UserID     int64      `json:"-"`
	ExerciseID string     `json:"exercise_id"`
	Timestamp  time.Time  `json:"ts"`
	Score      float64    `json:"score"`
	Correct    bool       `json:"correct"`
	Reasons    string     `json:"reasons"`
	Hint       string     `json:"hint"`
	Grader     GraderName `json:"grader,omitempty"`

	// Joined from the question/exam on read.
	Topic string `json:"topic,omitempty"`
	Date  string `json:"date,omitempty"`
}

// GradeResult is returned to the caller after a submission.
type GradeResult struct {
	ExerciseID string  `json:"exercise_id"`
	Topic      string  `json:"topic,omitempty"`
	Date       string  `json:"date,omitempty"`
	Score      float64 `json:"score"`
	Correct    bool    `json:"correct"`
	Reasons    string  `json:"reasons"`
	Hint       string  `json:"hint"`
}

// TopicSummary is the per-topic slice of a progress summary.
type TopicSummary struct {
	Topic    string  `json:"topic"`
	Attempts int     `json:"attempts"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Summary aggregates a user's attempt history.
type Summary struct {
	Username        string         `json:"username"`
	TotalAttempts   int            `json:"total_attempts"`
	Correct         int            `json:"correct"`
	Accuracy        float64        `json:"accuracy"`
	AverageScore    float64        `json:"average_score"`
	UniqueExercises int            `json:"unique_exercises"`
	CurrentStreak   int            `json:"current_streak"`
	BestStreak      int            `json:"best_streak"`
	LastAttemptAt   *time.Time     `json:"last_attempt_at,omitempty"`
	Topics          []TopicSummary `json:"topics"`
}

// QuestionBundle is the on-disk import format for reference data.
type QuestionBundle struct {
	Exams     []Exam     `json:"exams" validate:"dive"`
	Questions []Question `json:"questions" validate:"dive"`
}
