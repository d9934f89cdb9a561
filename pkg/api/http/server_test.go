package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/internal/application/orchestrator"
	"github.com/aescanero/newsroom/internal/desk"
	"github.com/aescanero/newsroom/pkg/adapters/cms"
	"github.com/aescanero/newsroom/pkg/adapters/events/memory"
	"github.com/aescanero/newsroom/pkg/adapters/llm/static"
	storagememory "github.com/aescanero/newsroom/pkg/adapters/storage/memory"
	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/protocol"
	"github.com/aescanero/newsroom/pkg/resilience"
)

func newManager(t *testing.T) *orchestrator.Manager {
	t.Helper()
	d := desk.New(desk.DefaultSettings(), static.New(), cms.NewWordPressVIP(zap.NewNop()), nil, zap.NewNop())
	invoker := resilience.New(resilience.DefaultPolicy,
		resilience.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	m := orchestrator.NewManager(orchestrator.Config{}, storagememory.NewInMemoryInstanceStore(), d, invoker,
		orchestrator.NewValidator(), nil, nil, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func do(t *testing.T, srv *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func testPitch(slug string, keywords ...string) domain.StoryPitch {
	if len(keywords) == 0 {
		keywords = []string{"transit"}
	}
	return domain.StoryPitch{
		Slug:         slug,
		HeadlineIdea: "night buses return",
		Angle:        "Late shifts get a ride home",
		Beat:         "transport",
		Keywords:     keywords,
	}
}

func waitStatus(t *testing.T, m *orchestrator.Manager, id domain.StoryID, status domain.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		inst, err := m.Get(context.Background(), id)
		return err == nil && inst.Status == status
	}, 5*time.Second, 5*time.Millisecond)
}

func TestStoryLifecycle(t *testing.T) {
	m := newManager(t)
	srv := NewServer(&Config{Stories: m, Logger: zap.NewNop()})

	rec := do(t, srv, http.MethodPost, "/api/v1/stories", testPitch("night-buses"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decode[PitchResponse](t, rec)
	require.NotEmpty(t, started.StoryID)
	assert.NotEmpty(t, started.CorrelationID)

	waitStatus(t, m, started.StoryID, domain.StatusCompleted)

	rec = do(t, srv, http.MethodGet, "/api/v1/stories/"+string(started.StoryID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inst := decode[domain.Instance](t, rec)
	assert.Equal(t, domain.StageArchived, inst.Stage)

	rec = do(t, srv, http.MethodGet, "/api/v1/stories?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "night-buses", list.Stories[0].Slug)

	rec = do(t, srv, http.MethodGet, "/api/v1/stories?status=failed", nil)
	assert.Zero(t, decode[ListResponse](t, rec).Total)

	rec = do(t, srv, http.MethodPost, "/api/v1/stories/"+string(started.StoryID)+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", decode[ErrorResponse](t, rec).Error.Code)
}

func TestApprovalEndpoint(t *testing.T) {
	m := newManager(t)
	srv := NewServer(&Config{Stories: m, Logger: zap.NewNop()})

	rec := do(t, srv, http.MethodPost, "/api/v1/pitches", testPitch("court-ruling", "court"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[PitchResponse](t, rec).StoryID
	waitStatus(t, m, id, domain.StatusWaiting)

	rec = do(t, srv, http.MethodPost, "/api/v1/stories/"+string(id)+"/approval", map[string]any{"reason": "?"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/stories/"+string(id)+"/approval",
		ApprovalRequest{Approved: new(bool), Reason: "unsourced claims"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	waitStatus(t, m, id, domain.StatusRework)
}

func TestErrors(t *testing.T) {
	m := newManager(t)
	srv := NewServer(&Config{Stories: m, Logger: zap.NewNop()})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"malformed body", http.MethodPost, "/api/v1/stories", "not a pitch", http.StatusBadRequest, "INVALID_REQUEST"},
		{"invalid pitch", http.MethodPost, "/api/v1/stories", domain.StoryPitch{Slug: "x"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad slug", http.MethodPost, "/api/v1/stories", testPitch("Bad Slug"), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown story", http.MethodGet, "/api/v1/stories/missing", nil, http.StatusNotFound, "NOT_FOUND"},
		{"retry unknown", http.MethodPost, "/api/v1/stories/missing/retry", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad limit", http.MethodGet, "/api/v1/stories?limit=0", nil, http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error.Code)
		})
	}

	p := testPitch("twice-told")
	p.StoryID = domain.NewStoryID()
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/v1/stories", p).Code)
	rec := do(t, srv, http.MethodPost, "/api/v1/stories", p)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_EXISTS", decode[ErrorResponse](t, rec).Error.Code)
}

func TestPitchIntakePublishesToBus(t *testing.T) {
	broker := memory.NewBroker()
	bus := protocol.NewBus(broker.Transport("api"), "api", zap.NewNop())
	srv := NewServer(&Config{Intake: bus, Logger: zap.NewNop()})

	rec := do(t, srv, http.MethodPost, "/api/v1/pitches", testPitch("night-buses"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[PitchResponse](t, rec)
	assert.Equal(t, "queued", resp.Status)

	published := broker.Published(protocol.TopicPitches)
	require.Len(t, published, 1)
	env, err := protocol.Decode(published[0])
	require.NoError(t, err)
	assert.Equal(t, resp.EnvelopeID, env.ID)
	assert.Equal(t, resp.StoryID, env.StoryID())

	rec = do(t, srv, http.MethodGet, "/api/v1/stories", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "ORCHESTRATOR_NOT_AVAILABLE", decode[ErrorResponse](t, rec).Error.Code)
}

func TestAuthToken(t *testing.T) {
	srv := NewServer(&Config{Stories: newManager(t), APIToken: "s3cret", Logger: zap.NewNop()})

	rec := do(t, srv, http.MethodGet, "/api/v1/stories", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/stories", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/stories", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "newsroom_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	failing := false
	srv := NewServer(&Config{
		Gatherer: reg,
		Checks: map[string]HealthCheck{
			"redis": func(context.Context) error {
				if failing {
					return errors.New("connection refused")
				}
				return nil
			},
		},
		Logger: zap.NewNop(),
	})

	rec := do(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]any{"orchestrator": "disabled", "redis": "ok"}, body["checks"])

	failing = true
	rec = do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "newsroom_test_total 1")

	rec = do(t, srv, http.MethodOptions, "/api/v1/stories", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
