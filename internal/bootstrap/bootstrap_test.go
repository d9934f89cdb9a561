package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/internal/application/agents"
	"github.com/aescanero/newsroom/internal/config"
	"github.com/aescanero/newsroom/pkg/adapters/storage/memory"
	"github.com/aescanero/newsroom/pkg/adapters/storage/sqlite"
	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/protocol"
)

func load(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	t.Setenv("LLM_PROVIDER", "static")
	for k, v := range vars {
		t.Setenv(k, v)
	}
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestInProcessRuntime(t *testing.T) {
	cfg := load(t, map[string]string{"BUS_BACKEND": "memory", "STORE_BACKEND": "memory"})

	rt, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close()) }()

	assert.IsType(t, &memory.InMemoryInstanceStore{}, rt.Store)
	assert.IsType(t, &memory.InMemoryDedupStore{}, rt.Dedup)
	assert.Empty(t, rt.Checks())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, topics, err := rt.Agent(agents.RoleAssignment)
	require.NoError(t, err)
	assert.Equal(t, []string{protocol.TopicPitches}, topics)
	go func() { _ = host.Run(ctx, topics...) }()

	observer, err := rt.Transport("observer")
	require.NoError(t, err)
	assignments := make(chan protocol.Envelope, 1)
	obs := protocol.NewBus(observer, "observer", zap.NewNop())
	require.NoError(t, obs.Subscribe(ctx, protocol.TopicAssignments, func(ctx context.Context, d protocol.Delivery) {
		_ = d.Ack(ctx)
		assignments <- d.Envelope
	}))

	pitch := domain.StoryPitch{
		StoryID:      domain.NewStoryID(),
		Slug:         "harbor-dredging",
		HeadlineIdea: "Harbor dredging starts",
		Angle:        "What it means for ferries",
		Beat:         "city",
		Keywords:     []string{"harbor"},
	}
	_, err = obs.Publish(ctx, protocol.TopicPitches, pitch)
	require.NoError(t, err)

	select {
	case env := <-assignments:
		assert.Equal(t, pitch.StoryID, env.StoryID())
		assert.Equal(t, string(agents.RoleAssignment), env.Role)
	case <-time.After(5 * time.Second):
		t.Fatal("no assignment published")
	}
}

func TestAgentServerReportsHostHealth(t *testing.T) {
	cfg := load(t, map[string]string{"BUS_BACKEND": "memory", "STORE_BACKEND": "memory"})
	rt, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close()) }()

	host, topics, err := rt.Agent(agents.RoleReporter)
	require.NoError(t, err)
	handler := rt.AgentServer(host).Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent host is not running")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = host.Run(ctx, topics...) }()
	require.Eventually(t, host.Running, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusOK, get("/health").Code)
	metrics := get("/metrics")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "go_goroutines")
}

func TestRedisAndSQLiteRuntime(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := load(t, map[string]string{
		"REDIS_ADDR":        mr.Addr(),
		"BUS_BACKEND":       "redis",
		"STORE_BACKEND":     "sqlite",
		"STORE_SQLITE_PATH": filepath.Join(t.TempDir(), "newsroom.db"),
	})

	rt, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close()) }()

	assert.IsType(t, &sqlite.Store{}, rt.Store)
	checks := rt.Checks()
	require.Contains(t, checks, "redis")
	assert.NoError(t, checks["redis"](context.Background()))

	mr.Close()
	assert.Error(t, checks["redis"](context.Background()))
}

func TestUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := load(t, map[string]string{"REDIS_ADDR": addr, "REDIS_DIAL_TIMEOUT": "200ms"})
	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "failed to connect to Redis")
}
