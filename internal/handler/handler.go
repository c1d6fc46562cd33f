package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/mathtrainer/internal/model"
	"github.com/pavelanni/mathtrainer/internal/store"
)

const (
	defaultLimit    = 20
	maxRequestBytes = 1 << 20
)

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Selector hands out question cards.
type Selector interface {
	Next(ctx context.Context, username string, k int) ([]model.QuestionCard, error)
	Card(ctx context.Context, exerciseID string) (model.QuestionCard, error)
	RandomByTopic(ctx context.Context, username, topic string, onlyUnseen bool) (model.QuestionCard, error)
	Topics(ctx context.Context) ([]string, error)
}

// Submitter grades and records answers.
type Submitter interface {
	Submit(ctx context.Context, username, exerciseID, answer string) (model.GradeResult, error)
}

// Progress reports user history.
type Progress interface {
	Summary(ctx context.Context, username string) (model.Summary, error)
	Recent(ctx context.Context, username string, limit int) ([]model.Attempt, error)
}

// Info is echoed by the health endpoint and provides request defaults.
type Info struct {
	Model      string
	DB         string
	LLMEnabled bool
	Threshold  float64
	RecsK      int
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	db       Pinger
	selector Selector
	grader   Submitter
	progress Progress
	info     Info
}

// New creates a new Handler.
func New(db Pinger, sel Selector, grader Submitter, prog Progress, info Info) *Handler {
	if info.RecsK <= 0 {
		info.RecsK = 5
	}
	return &Handler{db: db, selector: sel, grader: grader, progress: prog, info: info}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/topics", h.handleTopics)
	r.Route("/questions", func(r chi.Router) {
		r.Get("/next", h.handleNext)
		r.Get("/random", h.handleRandom)
		r.Get("/{exercise_id}", h.handleCard)
	})
	r.Post("/attempts", h.handleSubmit)
	r.Route("/users/{username}", func(r chi.Router) {
		r.Get("/summary", h.handleSummary)
		r.Get("/attempts", h.handleAttempts)
	})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

type healthResponse struct {
	OK         bool    `json:"ok"`
	Model      string  `json:"model"`
	DB         string  `json:"db"`
	LLMEnabled bool    `json:"llm_enabled"`
	Threshold  float64 `json:"threshold"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		OK:         true,
		Model:      h.info.Model,
		DB:         h.info.DB,
		LLMEnabled: h.info.LLMEnabled,
		Threshold:  h.info.Threshold,
	}
	status := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		resp.OK = false
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

func (h *Handler) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.selector.Topics(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, topics)
}

type nextQuery struct {
	Username string `json:"username" validate:"required,max=128"`
	K        int    `json:"k" validate:"lte=100"`
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	k, err := intParam(r, "k", h.info.RecsK)
	if err != nil {
		respondError(w, r, err)
		return
	}
	q := nextQuery{Username: strings.TrimSpace(r.URL.Query().Get("username")), K: k}
	if err := validate.Struct(q); err != nil {
		respondError(w, r, err)
		return
	}

	cards, err := h.selector.Next(r.Context(), q.Username, q.K)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cards)
}

type randomQuery struct {
	Username string `json:"username" validate:"required,max=128"`
	Topic    string `json:"topic" validate:"max=256"`
}

func (h *Handler) handleRandom(w http.ResponseWriter, r *http.Request) {
	onlyUnseen, err := boolParam(r, "only_unseen", true)
	if err != nil {
		respondError(w, r, err)
		return
	}
	q := randomQuery{
		Username: strings.TrimSpace(r.URL.Query().Get("username")),
		Topic:    strings.TrimSpace(r.URL.Query().Get("topic")),
	}
	if err := validate.Struct(q); err != nil {
		respondError(w, r, err)
		return
	}

	card, err := h.selector.RandomByTopic(r.Context(), q.Username, q.Topic, onlyUnseen)
	if errors.Is(err, store.ErrNotFound) {
		err = fmt.Errorf("%w: %w", errNoTopicMatch, err)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

func (h *Handler) handleCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "exercise_id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	card, err := h.selector.Card(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

type attemptRequest struct {
	Username   string `json:"username" validate:"required,max=128"`
	ExerciseID string `json:"exercise_id" validate:"required"`
	Answer     string `json:"answer" validate:"required,max=20000"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req attemptRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", errMalformedBody, err))
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.ExerciseID = strings.TrimSpace(req.ExerciseID)
	if err := validate.Struct(req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.grader.Submit(r.Context(), req.Username, req.ExerciseID, req.Answer)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	username, err := pathParam(r, "username")
	if err != nil {
		respondError(w, r, err)
		return
	}
	sum, err := h.progress.Summary(r.Context(), username)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

type attemptsQuery struct {
	Limit int `json:"limit" validate:"gte=1,lte=1000"`
}

func (h *Handler) handleAttempts(w http.ResponseWriter, r *http.Request) {
	username, err := pathParam(r, "username")
	if err != nil {
		respondError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := validate.Struct(attemptsQuery{Limit: limit}); err != nil {
		respondError(w, r, err)
		return
	}

	attempts, err := h.progress.Recent(r.Context(), username, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

// pathParam returns the decoded route parameter. chi routes on RawPath when
// the request has one, so "alice%40example.com" arrives still encoded.
func pathParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return raw, nil
	}
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not a valid path segment", errBadParam, name)
	}
	return v, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadParam, name)
	}
	return n, nil
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadParam, name)
	}
	return b, nil
}
