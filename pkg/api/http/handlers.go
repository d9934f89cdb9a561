package http

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/protocol"
)

// PitchResponse represents an accepted pitch
type PitchResponse struct {
	StoryID       domain.StoryID `json:"story_id"`
	EnvelopeID    string         `json:"envelope_id,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Status        string         `json:"status"`
	AcceptedAt    time.Time      `json:"accepted_at"`
}

// StorySummary is one row of a story listing
type StorySummary struct {
	StoryID   domain.StoryID `json:"story_id"`
	Slug      string         `json:"slug"`
	Headline  string         `json:"headline"`
	Stage     domain.Stage   `json:"stage"`
	Status    domain.Status  `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ListResponse represents a page of stories
type ListResponse struct {
	Stories []StorySummary `json:"stories"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// ApprovalRequest carries an editor decision
type ApprovalRequest struct {
	Approved *bool  `json:"approved" binding:"required"`
	Reason   string `json:"reason"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Summarize converts an instance to its listing row
func Summarize(inst *domain.Instance) StorySummary {
	return StorySummary{
		StoryID:   inst.StoryID,
		Slug:      inst.Pitch.Slug,
		Headline:  inst.Pitch.HeadlineIdea,
		Stage:     inst.Stage,
		Status:    inst.Status,
		Reason:    inst.Reason,
		CreatedAt: inst.CreatedAt,
		UpdatedAt: inst.UpdatedAt,
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"orchestrator": "disabled"}
	if s.stories != nil {
		checks["orchestrator"] = "ok"
	}

	healthy := true
	for name, check := range s.checks {
		if err := check(c.Request.Context()); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// handleSubmitPitch validates a pitch and hands it to the pipeline
func (s *Server) handleSubmitPitch(c *gin.Context) {
	pitch, ok := s.bindPitch(c)
	if !ok {
		return
	}

	if s.intake == nil {
		s.startStory(c, pitch)
		return
	}

	env, err := s.intake.Publish(c.Request.Context(), protocol.TopicPitches, pitch)
	if err != nil {
		s.writeError(c, "failed to publish pitch", err)
		return
	}

	c.JSON(http.StatusAccepted, PitchResponse{
		StoryID:       pitch.StoryID,
		EnvelopeID:    env.ID,
		CorrelationID: env.CorrelationID,
		Status:        "queued",
		AcceptedAt:    env.CreatedAt,
	})
}

// handleStartStory starts an orchestration directly
func (s *Server) handleStartStory(c *gin.Context) {
	if !s.requireStories(c) {
		return
	}
	pitch, ok := s.bindPitch(c)
	if !ok {
		return
	}
	s.startStory(c, pitch)
}

func (s *Server) startStory(c *gin.Context, pitch domain.StoryPitch) {
	if !s.requireStories(c) {
		return
	}

	inst, err := s.stories.Start(c.Request.Context(), pitch)
	if err != nil {
		s.writeError(c, "failed to start story", err)
		return
	}

	c.JSON(http.StatusCreated, PitchResponse{
		StoryID:       inst.StoryID,
		CorrelationID: inst.CorrelationID,
		Status:        string(inst.Status),
		AcceptedAt:    inst.CreatedAt,
	})
}

// handleListStories handles listing stories
func (s *Server) handleListStories(c *gin.Context) {
	if !s.requireStories(c) {
		return
	}

	limit, err1 := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, err2 := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err := errors.Join(err1, err2); err != nil || limit < 1 || offset < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "limit must be positive and offset must not be negative",
			},
		})
		return
	}

	instances, err := s.stories.List(c.Request.Context())
	if err != nil {
		s.writeError(c, "failed to list stories", err)
		return
	}

	status := domain.Status(c.Query("status"))
	stage := domain.Stage(c.Query("stage"))
	rows := make([]StorySummary, 0, len(instances))
	for _, inst := range instances {
		if status != "" && inst.Status != status {
			continue
		}
		if stage != "" && inst.Stage != stage {
			continue
		}
		rows = append(rows, Summarize(inst))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt.After(rows[j].UpdatedAt) })

	total := len(rows)
	start := min(offset, total)
	end := min(start+limit, total)

	c.JSON(http.StatusOK, ListResponse{
		Stories: rows[start:end],
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// handleGetStory handles getting story details
func (s *Server) handleGetStory(c *gin.Context) {
	if !s.requireStories(c) {
		return
	}

	inst, err := s.stories.Get(c.Request.Context(), domain.StoryID(c.Param("id")))
	if err != nil {
		s.writeError(c, "failed to get story", err)
		return
	}

	c.JSON(http.StatusOK, inst)
}

// handleApproval delivers the editor's decision
func (s *Server) handleApproval(c *gin.Context) {
	if !s.requireStories(c) {
		return
	}

	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	id := domain.StoryID(c.Param("id"))
	approval := domain.Approval{Approved: *req.Approved, Reason: req.Reason}
	if err := s.stories.Signal(c.Request.Context(), id, domain.SignalEditorApproval, approval); err != nil {
		s.writeError(c, "failed to deliver approval", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"story_id": id,
		"signal":   domain.SignalEditorApproval,
		"approved": approval.Approved,
	})
}

// handleRetry resumes a failed story
func (s *Server) handleRetry(c *gin.Context) {
	if !s.requireStories(c) {
		return
	}

	inst, err := s.stories.Retry(c.Request.Context(), domain.StoryID(c.Param("id")))
	if err != nil {
		s.writeError(c, "failed to retry story", err)
		return
	}

	c.JSON(http.StatusAccepted, Summarize(inst))
}

func (s *Server) bindPitch(c *gin.Context) (domain.StoryPitch, bool) {
	var pitch domain.StoryPitch
	if err := c.ShouldBindJSON(&pitch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return pitch, false
	}
	if pitch.StoryID == "" {
		pitch.StoryID = domain.NewStoryID()
	}
	if err := pitch.Validate(); err != nil {
		s.writeError(c, "invalid pitch", err)
		return pitch, false
	}
	return pitch, true
}

func (s *Server) requireStories(c *gin.Context) bool {
	if s.stories != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: ErrorDetail{
			Code:    "ORCHESTRATOR_NOT_AVAILABLE",
			Message: "Stories are not orchestrated by this service",
		},
	})
	return false
}

// writeError maps domain errors to status codes
func (s *Server) writeError(c *gin.Context, msg string, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "VALIDATION_FAILED",
				Message: validationErr.Error(),
				Details: validationErr.Reasons,
			},
		})
	case errors.Is(err, domain.ErrInstanceNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Story not found",
			},
		})
	case errors.Is(err, domain.ErrInstanceExists):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "ALREADY_EXISTS",
				Message: err.Error(),
			},
		})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_STATE",
				Message: err.Error(),
			},
		})
	default:
		s.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INTERNAL",
				Message: msg,
				Details: err.Error(),
			},
		})
	}
}
