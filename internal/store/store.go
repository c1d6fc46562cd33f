package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/mathtrainer/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if isMemory(dbPath) {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func dsn(dbPath string) string {
	params := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)", "_txlock=immediate"}
	if !isMemory(dbPath) {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return dbPath + "?" + strings.Join(params, "&")
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS exams (
		exam_id TEXT PRIMARY KEY,
		exam_type TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS questions (
		exercise_id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		question TEXT NOT NULL,
		solution TEXT NOT NULL DEFAULT '',
		topic_pred TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (exam_id) REFERENCES exams(exam_id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		attempt_id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL NOT NULL,
		user_id INTEGER NOT NULL,
		exercise_id TEXT NOT NULL,
		score REAL NOT NULL,
		correct INTEGER NOT NULL,
		reasons TEXT NOT NULL DEFAULT '',
		hint TEXT NOT NULL DEFAULT '',
		grader TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (user_id) REFERENCES users(user_id),
		FOREIGN KEY (exercise_id) REFERENCES questions(exercise_id)
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_user_ts ON attempts(user_id, ts);
	CREATE INDEX IF NOT EXISTS idx_questions_topic ON questions(topic_pred);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	// Databases provisioned before the grader column existed.
	return s.ensureColumn("attempts", "grader", `ALTER TABLE attempts ADD COLUMN grader TEXT NOT NULL DEFAULT ''`)
}

func (s *Store) ensureColumn(table, column, ddl string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info('` + table + `')`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	slog.Info("adding missing column", "table", table, "column", column)
	_, err = s.db.Exec(ddl)
	return err
}

const questionColumns = `q.exercise_id, q.exam_id, q.question, COALESCE(q.solution, ''), COALESCE(q.topic_pred, ''),
	COALESCE(e.exam_type, ''), COALESCE(e.date, ''), COALESCE(e.year, 0)`

const questionFrom = ` FROM questions q LEFT JOIN exams e ON e.exam_id = q.exam_id`

// seenByUser is correlated on q; NULL exercise_ids in old databases never match.
const seenByUser = `SELECT 1 FROM attempts a JOIN users u ON u.user_id = a.user_id
	WHERE u.username = ? AND a.exercise_id = q.exercise_id`

func scanQuestion(sc interface{ Scan(...any) error }) (model.Question, error) {
	var q model.Question
	err := sc.Scan(&q.ExerciseID, &q.ExamID, &q.Text, &q.Solution, &q.Topic, &q.ExamType, &q.Date, &q.Year)
	return q, err
}

func (s *Store) queryQuestions(ctx context.Context, query string, args ...any) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// topicClause returns an AND clause for a case-insensitive topic match; empty topic means no filter.
func topicClause(topic string) (string, []any) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", nil
	}
	return ` AND LOWER(COALESCE(q.topic_pred, '')) = LOWER(?)`, []any{topic}
}

// GetQuestion returns a question with its exam metadata.
func (s *Store) GetQuestion(ctx context.Context, exerciseID string) (model.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+questionFrom+` WHERE q.exercise_id = ?`, exerciseID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return q, fmt.Errorf("question %q: %w", exerciseID, ErrNotFound)
	}
	return q, err
}

// ListQuestions returns all questions, optionally restricted to a topic.
func (s *Store) ListQuestions(ctx context.Context, topic string) ([]model.Question, error) {
	clause, args := topicClause(topic)
	return s.queryQuestions(ctx,
		`SELECT `+questionColumns+questionFrom+` WHERE 1=1`+clause+` ORDER BY q.exercise_id`, args...)
}

// ListUnseenQuestions returns questions the user has never attempted.
func (s *Store) ListUnseenQuestions(ctx context.Context, username, topic string) ([]model.Question, error) {
	clause, targs := topicClause(topic)
	args := append([]any{username}, targs...)
	return s.queryQuestions(ctx,
		`SELECT `+questionColumns+questionFrom+
			` WHERE NOT EXISTS (`+seenByUser+`)`+clause+
			` ORDER BY q.exercise_id`, args...)
}

// ListSeenQuestions returns questions the user has attempted, least recently attempted first.
func (s *Store) ListSeenQuestions(ctx context.Context, username, topic string) ([]model.Question, error) {
	clause, targs := topicClause(topic)
	args := append([]any{username}, targs...)
	return s.queryQuestions(ctx,
		`SELECT `+questionColumns+questionFrom+`
		 JOIN (
			SELECT a.exercise_id, MAX(a.ts) AS last_ts
			FROM attempts a JOIN users u ON u.user_id = a.user_id
			WHERE u.username = ?
			GROUP BY a.exercise_id
		 ) seen ON seen.exercise_id = q.exercise_id
		 WHERE 1=1`+clause+`
		 ORDER BY seen.last_ts ASC, q.exercise_id`, args...)
}

// ListDistinctTopics returns the sorted set of non-empty topic labels.
func (s *Store) ListDistinctTopics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT topic_pred FROM questions
		 WHERE topic_pred IS NOT NULL AND TRIM(topic_pred) != ''
		 ORDER BY topic_pred`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	topics := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// ImportBundle upserts exams and questions in a single transaction.
func (s *Store) ImportBundle(ctx context.Context, b model.QuestionBundle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range b.Exams {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO exams (exam_id, exam_type, date, year) VALUES (?, ?, ?, ?)
			 ON CONFLICT(exam_id) DO UPDATE SET exam_type = excluded.exam_type, date = excluded.date, year = excluded.year`,
			e.ID, e.Type, e.Date, e.Year,
		)
		if err != nil {
			return fmt.Errorf("upsert exam %q: %w", e.ID, err)
		}
	}
	for _, q := range b.Questions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO questions (exercise_id, exam_id, question, solution, topic_pred) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(exercise_id) DO UPDATE SET exam_id = excluded.exam_id, question = excluded.question,
			 solution = excluded.solution, topic_pred = excluded.topic_pred`,
			q.ExerciseID, q.ExamID, q.Text, q.Solution, q.Topic,
		)
		if err != nil {
			return fmt.Errorf("upsert question %q: %w", q.ExerciseID, err)
		}
	}
	return tx.Commit()
}

// InsertAttempt records a graded attempt, creating the user on first sight.
// Both writes happen in one transaction.
func (s *Store) InsertAttempt(ctx context.Context, username string, a model.Attempt) (model.Attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	userID, err := ensureUser(ctx, tx, username)
	if err != nil {
		return a, fmt.Errorf("ensure user: %w", err)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO attempts (ts, user_id, exercise_id, score, correct, reasons, hint, grader)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		toUnix(a.Timestamp), userID, a.ExerciseID, a.Score, a.Correct, a.Reasons, a.Hint, string(a.Grader),
	)
	if err != nil {
		return a, fmt.Errorf("insert attempt: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return a, err
	}
	a.UserID = userID
	return a, tx.Commit()
}

const attemptSelect = `SELECT a.attempt_id, a.user_id, a.exercise_id, a.ts, a.score, a.correct,
	COALESCE(a.reasons, ''), COALESCE(a.hint, ''), COALESCE(a.grader, ''),
	COALESCE(q.topic_pred, ''), COALESCE(e.date, '')
	FROM attempts a
	JOIN users u ON u.user_id = a.user_id
	LEFT JOIN questions q ON q.exercise_id = a.exercise_id
	LEFT JOIN exams e ON e.exam_id = q.exam_id
	WHERE u.username = ?`

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]model.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	attempts := []model.Attempt{}
	for rows.Next() {
		var (
			a      model.Attempt
			ts     float64
			grader string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.ExerciseID, &ts, &a.Score, &a.Correct,
			&a.Reasons, &a.Hint, &grader, &a.Topic, &a.Date); err != nil {
			return nil, err
		}
		a.Timestamp = fromUnix(ts)
		a.Grader = model.GraderName(grader)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListRecentAttempts returns up to limit attempts for the user, newest first.
func (s *Store) ListRecentAttempts(ctx context.Context, username string, limit int) ([]model.Attempt, error) {
	return s.queryAttempts(ctx, attemptSelect+` ORDER BY a.ts DESC, a.attempt_id DESC LIMIT ?`, username, limit)
}

// AttemptHistory returns every attempt of the user in submission order.
func (s *Store) AttemptHistory(ctx context.Context, username string) ([]model.Attempt, error) {
	return s.queryAttempts(ctx, attemptSelect+` ORDER BY a.ts ASC, a.attempt_id ASC`, username)
}

// AttemptCount returns the total number of stored attempts.
func (s *Store) AttemptCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts`).Scan(&count)
	return count, err
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Truncate(time.Microsecond)
}
