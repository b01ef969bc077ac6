package analyses

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"menu-analysis-backend/internal/shared/server/middleware"
	"menu-analysis-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the orchestrator.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.requestAnalysis)
	rg.GET("/analyses/state", h.getState)
	rg.GET("/analyses/jobs/:id", h.getJob)
	rg.GET("/analyses/cache/:institution/:year/:month", h.getCached)
}

type analysisRequest struct {
	Institution string          `json:"institution"`
	Year        int             `json:"year"`
	Month       *int            `json:"month"`
	Menu        json.RawMessage `json:"menu"`
}

func (h *Handler) requestAnalysis(c *gin.Context) {
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if req.Month == nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "month is required", []map[string]string{
			{"field": "month", "issue": "required"},
		})
		return
	}
	scope := Scope{Institution: req.Institution, Year: req.Year, Month: *req.Month}
	if err := scope.Validate(); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	future, err := h.Svc.RequestAnalysis(ctx, scope, req.Menu)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.JobIDKey, future.JobID())
	c.Set(middleware.ScopeKeyKey, future.ScopeKey())

	if wait, _ := strconv.ParseBool(c.Query("wait")); !wait {
		job, err := h.Svc.Job(future.JobID())
		status := string(StatusQueued)
		if err == nil {
			status = string(job.Status)
		}
		respond.Accepted(c, gin.H{
			"jobId":    future.JobID(),
			"scopeKey": future.ScopeKey(),
			"status":   status,
		})
		return
	}

	summary, err := future.Wait(c.Request.Context())
	if err != nil {
		if c.Request.Context().Err() != nil {
			respond.Error(c, http.StatusGatewayTimeout, "wait_cancelled", "stopped waiting for the analysis; it keeps running", gin.H{"jobId": future.JobID()})
			return
		}
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{
		"jobId":    future.JobID(),
		"scopeKey": future.ScopeKey(),
		"summary":  summary,
	})
}

func (h *Handler) getState(c *gin.Context) {
	respond.OK(c, h.Svc.State())
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.Svc.Job(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, job)
}

func (h *Handler) getCached(c *gin.Context) {
	year, yearErr := strconv.Atoi(c.Param("year"))
	month, monthErr := strconv.Atoi(c.Param("month"))
	if yearErr != nil || monthErr != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "year and month must be integers", nil)
		return
	}
	scope := Scope{Institution: c.Param("institution"), Year: year, Month: month}
	entry, ok := h.Svc.Cached(scope)
	if !ok {
		respond.Error(c, http.StatusNotFound, "not_found", "no cached analysis for scope", gin.H{"scopeKey": scope.Key()})
		return
	}
	respond.OK(c, gin.H{
		"scopeKey":  scope.Key(),
		"summary":   entry.Summary,
		"timestamp": entry.Timestamp,
	})
}

func writeError(c *gin.Context, err error) {
	code := strings.ToLower(ErrorCode(err))

	var rej *RejectionError
	if errors.As(err, &rej) {
		status := http.StatusTooManyRequests
		switch {
		case errors.Is(err, ErrBreakerOpen):
			status = http.StatusServiceUnavailable
		case errors.Is(err, ErrAlreadyQueued):
			status = http.StatusConflict
		}
		var details any
		if rej.RetryAfter > 0 {
			seconds := ceilUnits(rej.RetryAfter, time.Second)
			c.Header("Retry-After", strconv.Itoa(seconds))
			details = gin.H{"retryAfterSeconds": seconds}
		}
		respond.Error(c, status, code, rej.Message, details)
		return
	}

	var jobErr *JobError
	if errors.As(err, &jobErr) {
		status := http.StatusBadGateway
		if errors.Is(err, ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		respond.Error(c, status, code, jobErr.Error(), gin.H{"jobId": jobErr.JobID})
		return
	}

	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, code, "job not found", nil)
	case errors.Is(err, ErrInvalidScope):
		respond.Error(c, http.StatusBadRequest, code, err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to process analysis request", nil)
	}
}
