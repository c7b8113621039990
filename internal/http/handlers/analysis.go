package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/podium-backend/internal/domain/analysis"
	"github.com/yungbote/podium-backend/internal/http/response"
	"github.com/yungbote/podium-backend/internal/platform/rediscache"
	"github.com/yungbote/podium-backend/internal/services"
)

// EventSubscriber streams analysis events. Nil disables the events endpoint.
type EventSubscriber interface {
	Subscribe(ctx context.Context, onEvent func(rediscache.AnalysisEvent)) error
}

type AnalysisHandler struct {
	analyses services.AnalysisService
	events   EventSubscriber
}

func NewAnalysisHandler(analyses services.AnalysisService, events EventSubscriber) *AnalysisHandler {
	return &AnalysisHandler{analyses: analyses, events: events}
}

// POST /v1/analyses
func (h *AnalysisHandler) Create(c *gin.Context) {
	var req services.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	run, err := h.analyses.Submit(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.Header("Location", "/v1/analyses/"+run.ID.String())
	response.RespondAccepted(c, gin.H{"analysis": run})
}

// GET /v1/analyses/:id
func (h *AnalysisHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_analysis_id", err)
		return
	}
	run, err := h.analyses.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"analysis": run})
}

// GET /v1/analyses?status=&limit=
func (h *AnalysisHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.analyses.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"analyses": runs})
}

// GET /v1/analyses/:id/events
func (h *AnalysisHandler) Events(c *gin.Context) {
	if h.events == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "events_disabled", errEventsDisabled)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_analysis_id", err)
		return
	}
	run, err := h.analyses.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if run.Terminal() {
		c.SSEvent(run.Status, terminalEvent(run))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	ch := make(chan rediscache.AnalysisEvent, 16)
	err = h.events.Subscribe(ctx, func(ev rediscache.AnalysisEvent) {
		if ev.AnalysisID != id.String() {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	if err != nil {
		response.RespondError(c, http.StatusServiceUnavailable, "events_unavailable", err)
		return
	}
	// The run may have finished before the subscription was live.
	if run, err = h.analyses.Get(ctx, id); err == nil && run.Terminal() {
		c.SSEvent(run.Status, terminalEvent(run))
		return
	}

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			return true
		case ev := <-ch:
			c.SSEvent(ev.Status, ev)
			return ev.Status == "queued" || ev.Status == "running"
		}
	})
}

func terminalEvent(run *types.AnalysisRun) rediscache.AnalysisEvent {
	return rediscache.AnalysisEvent{AnalysisID: run.ID.String(), Status: run.Status, Stage: run.Stage, Error: run.Error, At: run.UpdatedAt}
}

type handlerError string

func (e handlerError) Error() string { return string(e) }

const errEventsDisabled = handlerError("analysis events require Redis")
