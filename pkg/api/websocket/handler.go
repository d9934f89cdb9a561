package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	bufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Snapshotter loads the current state of a story.
type Snapshotter interface {
	Get(ctx context.Context, id domain.StoryID) (*domain.Instance, error)
}

// Handler fans instance changes out to WebSocket clients. It implements
// ports.Notifier.
type Handler struct {
	stories Snapshotter
	logger  *zap.Logger

	mu   sync.Mutex
	subs map[domain.StoryID]map[chan *domain.Instance]struct{}
}

// NewHandler creates a new WebSocket handler
func NewHandler(stories Snapshotter, logger *zap.Logger) *Handler {
	return &Handler{
		stories: stories,
		logger:  logger,
		subs:    make(map[domain.StoryID]map[chan *domain.Instance]struct{}),
	}
}

// InstanceChanged forwards a change to the story's subscribers
func (h *Handler) InstanceChanged(_ context.Context, inst *domain.Instance) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[inst.StoryID] {
		select {
		case ch <- inst.Clone():
		default:
			// Channel full, skip update
			h.logger.Warn("update channel full, dropping update",
				zap.String("story_id", string(inst.StoryID)),
				zap.String("stage", string(inst.Stage)))
		}
	}
}

// Subscribers returns how many clients follow a story
func (h *Handler) Subscribers(id domain.StoryID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}

func (h *Handler) subscribe(id domain.StoryID) chan *domain.Instance {
	ch := make(chan *domain.Instance, bufferSize)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan *domain.Instance]struct{})
	}
	h.subs[id][ch] = struct{}{}
	return ch
}

func (h *Handler) unsubscribe(id domain.StoryID, ch chan *domain.Instance) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[id], ch)
	if len(h.subs[id]) == 0 {
		delete(h.subs, id)
	}
}

// HandleStoryStream handles WebSocket streaming for a specific story
func (h *Handler) HandleStoryStream(c *gin.Context) {
	storyID := domain.StoryID(c.Param("id"))

	// Subscribe before the snapshot so no change is missed
	updates := h.subscribe(storyID)
	defer h.unsubscribe(storyID, updates)

	snapshot, err := h.stories.Get(c.Request.Context(), storyID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "Story not found"}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("story_id", string(storyID)),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go h.readPump(conn, cancel)

	if !h.send(conn, snapshot) || !snapshot.Status.Active() {
		h.close(conn)
		return
	}

	sent := snapshot.Version
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case inst := <-updates:
			if inst.Version <= sent {
				continue
			}
			sent = inst.Version
			if !h.send(conn, inst) {
				return
			}
			if !inst.Status.Active() {
				h.close(conn)
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, inst *domain.Instance) bool {
	data, err := json.Marshal(inst)
	if err != nil {
		h.logger.Error("failed to marshal instance", zap.Error(err))
		return true
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Error("failed to write message", zap.Error(err))
		return false
	}
	return true
}

func (h *Handler) close(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "story stopped"))
}
