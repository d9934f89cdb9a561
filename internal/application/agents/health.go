package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor monitors agent host health
type HealthMonitor struct {
	host     *Host
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// HealthStatus represents the health status of an agent host
type HealthStatus struct {
	Role      string
	Slots     int
	Idle      int
	Busy      int
	Queued    int
	Capacity  int
	Running   bool
	Healthy   bool
	Timestamp time.Time
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(host *Host, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		host:     host,
		interval: interval,
		logger:   logger,
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})

	go h.run(h.stopCh)
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

func (h *HealthMonitor) run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth logs host status and records metrics
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Info("agent host health check",
		zap.Int("slots", status.Slots),
		zap.Int("idle", status.Idle),
		zap.Int("busy", status.Busy),
		zap.Int("queued", status.Queued),
		zap.Bool("healthy", status.Healthy))

	h.host.metrics.RecordHostStatus(status.Role, status.Idle, status.Busy, status.Queued)

	if !status.Healthy {
		h.logger.Warn("agent host is unhealthy",
			zap.Bool("running", status.Running),
			zap.Int("queued", status.Queued),
			zap.Int("capacity", status.Capacity))
	}

	if status.Busy == status.Slots && status.Queued > 0 {
		h.logger.Warn("all handler slots are busy - consider scaling up",
			zap.Int("slots", status.Slots))
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	busy, queued := h.host.queue.stats()
	slots := h.host.cfg.Concurrency
	running := h.host.Running()

	return &HealthStatus{
		Role:      h.host.cfg.Role,
		Slots:     slots,
		Idle:      slots - busy,
		Busy:      busy,
		Queued:    queued,
		Capacity:  h.host.cfg.QueueCapacity,
		Running:   running,
		Healthy:   running && queued < h.host.cfg.QueueCapacity,
		Timestamp: time.Now(),
	}
}

// IsHealthy returns true if the host is running and its queue has room
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}

// Check returns an error unless the host is healthy.
func (h *HealthMonitor) Check(context.Context) error {
	if h.IsHealthy() {
		return nil
	}
	status := h.GetStatus()
	if !status.Running {
		return errors.New("agent host is not running")
	}
	return fmt.Errorf("agent queue is full: %d of %d", status.Queued, status.Capacity)
}

// Health returns the host's health monitor.
func (h *Host) Health() *HealthMonitor {
	return h.health
}
