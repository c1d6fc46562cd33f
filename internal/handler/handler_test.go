package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/mathtrainer/internal/grading"
	"github.com/pavelanni/mathtrainer/internal/i18n"
	"github.com/pavelanni/mathtrainer/internal/metrics"
	"github.com/pavelanni/mathtrainer/internal/model"
	"github.com/pavelanni/mathtrainer/internal/progress"
	"github.com/pavelanni/mathtrainer/internal/selector"
	"github.com/pavelanni/mathtrainer/internal/store"
	"github.com/pavelanni/mathtrainer/internal/store/storetest"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
}

func newEnv(t *testing.T, bundles ...model.QuestionBundle) *testEnv {
	t.Helper()
	require.NoError(t, i18n.Init("en"))

	s := storetest.New(t)
	for _, b := range bundles {
		storetest.Import(t, s, b)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "")
	g := grading.New(s, grading.Instrument(grading.NewBaseline(), m), grading.DefaultThreshold, m)
	h := New(s, selector.New(s), g, progress.New(s), Info{
		Model:     "baseline",
		DB:        ":memory:",
		Threshold: grading.DefaultThreshold,
		RecsK:     5,
	})

	srv := httptest.NewServer(NewRouter(h, "en", m, reg))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: s}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), "body: %s", data)
	return v
}

func TestRieszScenario(t *testing.T) {
	env := newEnv(t, storetest.RieszBundle())

	resp, body := env.do(t, http.MethodGet, "/questions/next?username=alice&k=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cards := decode[[]model.QuestionCard](t, body)
	require.Len(t, cards, 1)
	assert.Equal(t, storetest.RieszExerciseID, cards[0].ExerciseID)
	assert.Equal(t, storetest.RieszQuestion, cards[0].Question)

	resp, body = env.do(t, http.MethodPost, "/attempts",
		`{"username":"alice","exercise_id":"General_2025-08-29_Exercise_1","answer":"Every bounded linear functional on a Hilbert space is an inner product with a unique vector y."}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	raw := decode[map[string]any](t, body)
	assert.Equal(t, storetest.RieszExerciseID, raw["exercise_id"])
	assert.IsType(t, float64(0), raw["score"])
	assert.IsType(t, true, raw["correct"])

	resp, body = env.do(t, http.MethodGet, "/users/alice/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[model.Summary](t, body)
	assert.Equal(t, 1, sum.TotalAttempts)

	resp, body = env.do(t, http.MethodGet, "/users/alice/attempts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	attempts := decode[[]model.Attempt](t, body)
	require.Len(t, attempts, 1)
	assert.Equal(t, storetest.RieszExerciseID, attempts[0].ExerciseID)
	assert.Equal(t, raw["score"], attempts[0].Score)
	assert.Equal(t, raw["correct"], attempts[0].Correct)
}

func TestSubmitUnknownExercise(t *testing.T) {
	env := newEnv(t, storetest.RieszBundle())

	resp, body := env.do(t, http.MethodPost, "/attempts",
		`{"username":"alice","exercise_id":"Nope_1","answer":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decode[ErrorResponse](t, body)
	assert.Equal(t, "Unknown exercise_id", errResp.Error)
	assert.NotEmpty(t, errResp.TraceID)
	assert.Equal(t, resp.Header.Get(TraceHeader), errResp.TraceID)

	n, err := env.store.AttemptCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitBadRequests(t *testing.T) {
	env := newEnv(t, storetest.RieszBundle())

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"malformed json", `{"username":`, http.StatusBadRequest, "Malformed JSON body"},
		{"wrong type", `{"username":1}`, http.StatusBadRequest, "Malformed JSON body"},
		{"missing username", `{"exercise_id":"X","answer":"y"}`, http.StatusUnprocessableEntity, "username is required"},
		{"blank exercise", `{"username":"a","exercise_id":"  ","answer":"y"}`, http.StatusUnprocessableEntity, "exercise_id is required"},
		{"missing answer", `{"username":"a","exercise_id":"General_2025-08-29_Exercise_1"}`, http.StatusUnprocessableEntity, "answer is required"},
		{"empty answer", `{"username":"a","exercise_id":"General_2025-08-29_Exercise_1","answer":""}`, http.StatusUnprocessableEntity, "answer is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/attempts", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.message, decode[ErrorResponse](t, body).Error)
		})
	}

	n, err := env.store.AttemptCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEscapedPathParams(t *testing.T) {
	env := newEnv(t, storetest.RieszBundle())

	for username, escaped := range map[string]string{
		"alice@example.com": "alice%40example.com",
		"a+b":               "a%2Bb",
		"a/b":               "a%2Fb",
		"100%":              "100%25",
	} {
		body, err := json.Marshal(map[string]string{
			"username":    username,
			"exercise_id": storetest.RieszExerciseID,
			"answer":      "bounded linear functional",
		})
		require.NoError(t, err)
		resp, _ := env.do(t, http.MethodPost, "/attempts", string(body))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, data := env.do(t, http.MethodGet, "/users/"+escaped+"/summary", "")
		require.Equal(t, http.StatusOK, resp.StatusCode, "user %q", username)
		sum := decode[model.Summary](t, data)
		assert.Equal(t, username, sum.Username)
		assert.Equal(t, 1, sum.TotalAttempts, "user %q", username)

		resp, data = env.do(t, http.MethodGet, "/users/"+escaped+"/attempts", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode[[]model.Attempt](t, data), 1, "user %q", username)
	}

	resp, data := env.do(t, http.MethodGet, "/questions/General_2025-08-29_Exercise%5F1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, storetest.RieszExerciseID, decode[model.QuestionCard](t, data).ExerciseID)
}

func TestPathParamInvalidEscape(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("username", "bad%zz")
	r := httptest.NewRequest(http.MethodGet, "/users/x/summary", nil)
	r.URL.RawPath = "/users/bad%zz/summary"
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	_, err := pathParam(r, "username")
	require.ErrorIs(t, err, errBadParam)
	assert.Equal(t, http.StatusBadRequest, statusFor(err))
}

func TestNextParams(t *testing.T) {
	env := newEnv(t, storetest.RieszBundle(), storetest.MixedBundle())

	tests := []struct {
		name    string
		query   string
		status  int
		wantLen int
	}{
		{"default k", "?username=alice", http.StatusOK, 5},
		{"k zero", "?username=alice&k=0", http.StatusOK, 0},
		{"negative k", "?username=alice&k=-2", http.StatusOK, 0},
		{"k larger than pool", "?username=alice&k=50", http.StatusOK, 6},
		{"k above cap", "?username=alice&k=101", http.StatusUnprocessableEntity, 0},
		{"k not a number", "?username=alice&k=two", http.StatusBadRequest, 0},
		{"missing username", "?k=1", http.StatusUnprocessableEntity, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, "/questions/next"+tt.query, "")
			require.Equal(t, tt.status, resp.StatusCode, "body: %s", body)
			if tt.status == http.StatusOK {
				cards := decode[[]model.QuestionCard](t, body)
				assert.NotNil(t, cards)
				assert.Len(t, cards, tt.wantLen)
			}
		})
	}
}

func TestCard(t *testing.T) {
	env := newEnv(t, storetest.MixedBundle())

	resp, body := env.do(t, http.MethodGet, "/questions/A1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	card := decode[model.QuestionCard](t, body)
	assert.Equal(t, "A1", card.ExerciseID)
	assert.Equal(t, "metric spaces", card.Topic)
	assert.Equal(t, "Analysis", card.ExamType)
	assert.NotContains(t, string(body), "contraction", "solution must not be exposed")

	resp, body = env.do(t, http.MethodGet, "/questions/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Question not found.", decode[ErrorResponse](t, body).Error)
}

func TestRandom(t *testing.T) {
	env := newEnv(t, storetest.MixedBundle())

	resp, body := env.do(t, http.MethodGet, "/questions/random?username=alice&topic=Algebra", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, []string{"G1", "G2", "G3"}, decode[model.QuestionCard](t, body).ExerciseID)

	resp, body = env.do(t, http.MethodGet, "/questions/random?username=alice&topic=nonexistent", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "No question found for topic.", decode[ErrorResponse](t, body).Error)

	resp, body = env.do(t, http.MethodGet, "/questions/random?username=alice&topic=nonexistent", "", "Accept-Language", "es")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "No se encontró ninguna pregunta para el tema.", decode[ErrorResponse](t, body).Error)

	resp, _ = env.do(t, http.MethodGet, "/questions/random?username=alice&only_unseen=maybe", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAttemptsLimit(t *testing.T) {
	env := newEnv(t, storetest.MixedBundle())
	for _, id := range []string{"G1", "G2", "G3"} {
		storetest.RecordAttempt(t, env.store, "bob", id, 0.5, false)
	}

	resp, body := env.do(t, http.MethodGet, "/users/bob/attempts?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	attempts := decode[[]model.Attempt](t, body)
	require.Len(t, attempts, 2)
	assert.Equal(t, "G3", attempts[0].ExerciseID)

	for _, q := range []string{"?limit=0", "?limit=1001"} {
		resp, _ = env.do(t, http.MethodGet, "/users/bob/attempts"+q, "")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, q)
	}
}

func TestSummaryUnknownUser(t *testing.T) {
	env := newEnv(t, storetest.MixedBundle())

	resp, body := env.do(t, http.MethodGet, "/users/ghost/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[model.Summary](t, body)
	assert.Equal(t, "ghost", sum.Username)
	assert.Zero(t, sum.TotalAttempts)
	assert.Contains(t, string(body), `"topics":[]`)
}

func TestTopicsAndHealth(t *testing.T) {
	env := newEnv(t, storetest.RieszBundle(), storetest.MixedBundle())

	resp, body := env.do(t, http.MethodGet, "/topics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"algebra", "continuity", "linear functional", "metric spaces"}, decode[[]string](t, body))

	resp, body = env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[map[string]any](t, body)
	assert.Equal(t, true, health["ok"])
	assert.Equal(t, "baseline", health["model"])
	assert.Equal(t, false, health["llm_enabled"])
	assert.Equal(t, 0.6, health["threshold"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, storetest.RieszBundle())

	env.do(t, http.MethodPost, "/attempts",
		`{"username":"alice","exercise_id":"General_2025-08-29_Exercise_1","answer":"bounded linear functional"}`)
	env.do(t, http.MethodGet, "/questions/"+storetest.RieszExerciseID, "")

	resp, body := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `http_requests_total{method="POST",path="/attempts",status="200"} 1`)
	assert.Contains(t, text, `path="/questions/{exercise_id}"`)
	assert.Contains(t, text, `attempts_total{model="baseline",outcome="incorrect",topic="linear functional"} 1`)
	assert.Contains(t, text, "baseline_latency_seconds_count 1")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestHealthDatabaseDown(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	s := storetest.New(t)
	h := New(failingPinger{}, selector.New(s), grading.New(s, grading.NewBaseline(), 0.6, nil), progress.New(s), Info{})
	rec := httptest.NewRecorder()
	NewRouter(h, "en", nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":false`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{grading.ErrUnknownExercise, http.StatusBadRequest},
		{model.ErrInvalidInput, http.StatusBadRequest},
		{errMalformedBody, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{errNoTopicMatch, http.StatusNotFound},
		{errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/topics", nil)
	respondError(rec, req, errors.New("sql: database is locked at /var/lib/trainer.db"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "trainer.db")
	assert.Contains(t, rec.Body.String(), "An unexpected error occurred")
}
