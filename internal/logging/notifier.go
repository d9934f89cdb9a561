package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/newsroom/pkg/domain"
)

// InstanceLogger writes orchestration instance changes to a logger.
// Failed and rework outcomes are logged at warn with their reason.
type InstanceLogger struct {
	logger *zap.Logger
}

// NewInstanceLogger creates a notifier that logs instance changes
func NewInstanceLogger(logger *zap.Logger) *InstanceLogger {
	return &InstanceLogger{logger: logger}
}

// InstanceChanged logs the instance's stage and status.
func (n *InstanceLogger) InstanceChanged(_ context.Context, inst *domain.Instance) {
	level := zapcore.DebugLevel
	switch inst.Status {
	case domain.StatusFailed, domain.StatusRework:
		level = zapcore.WarnLevel
	case domain.StatusCompleted, domain.StatusWaiting:
		level = zapcore.InfoLevel
	}

	ce := n.logger.Check(level, "story updated")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("story_id", string(inst.StoryID)),
		zap.String("correlation_id", inst.CorrelationID),
		zap.String("stage", string(inst.Stage)),
		zap.String("status", string(inst.Status)),
		zap.Int64("version", inst.Version),
	}
	if inst.Reason != "" {
		fields = append(fields, zap.String("reason", inst.Reason))
	}
	if inst.Wait != nil && inst.Wait.Signal != "" {
		fields = append(fields, zap.String("awaiting", inst.Wait.Signal))
	}
	ce.Write(fields...)
}
