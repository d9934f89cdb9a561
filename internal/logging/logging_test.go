package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aescanero/newsroom/pkg/domain"
)

func TestNew(t *testing.T) {
	logger, err := New("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("bogus")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestContextLogger(t *testing.T) {
	fallback := zap.NewExample()
	assert.Same(t, fallback, FromContext(context.Background(), fallback))
	assert.NotNil(t, FromContext(context.Background(), nil))

	scoped := fallback.With(zap.String("story_id", "s1"))
	ctx := WithLogger(context.Background(), scoped)
	assert.Same(t, scoped, FromContext(ctx, fallback))
}

func TestInstanceLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewInstanceLogger(zap.New(core))

	inst := domain.NewInstance(domain.StoryPitch{StoryID: "s1", Slug: "harbor"}, "corr-1", time.Now())
	n.InstanceChanged(context.Background(), inst)
	assert.Zero(t, logs.Len(), "running updates log at debug")

	inst.Fail("cms unavailable", time.Now())
	n.InstanceChanged(context.Background(), inst)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "cms unavailable", entry.ContextMap()["reason"])
	assert.Equal(t, "corr-1", entry.ContextMap()["correlation_id"])
}
