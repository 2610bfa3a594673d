package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"erp_sync/internal/domain"
	"erp_sync/internal/ratelimit"
	"erp_sync/internal/service"
)

const (
	SignatureHeader = "intuit-signature"

	defaultListLimit = 50
	maxListLimit     = 200
	maxWebhookBody   = 1 << 20
)

type Orchestrator interface {
	Run(ctx context.Context, req service.OrchestrationRequest) (*domain.OrchestrationResult, error)
}

type WebhookIngester interface {
	VerifySignature(payload []byte, signature string) error
	Ingest(ctx context.Context, payload []byte) service.WebhookResult
}

type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.SyncQueueJob) (bool, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.SyncQueueJob, error)
}

type HistoryLister interface {
	List(ctx context.Context, tenantID string, limit int) ([]domain.SyncHistory, error)
}

type SessionLister interface {
	List(ctx context.Context, tenantID string, limit int) ([]domain.SyncSession, error)
}

type RateLimiter interface {
	Stats(tenantID string) ratelimit.Stats
	Reset(tenantID string)
}

// Handler serves the sync API.
type Handler struct {
	orchestrator Orchestrator
	worker       service.EntitySyncer
	webhooks     WebhookIngester
	queue        JobQueue
	history      HistoryLister
	sessions     SessionLister
	limiter      RateLimiter
	logger       *slog.Logger
}

type Dependencies struct {
	Orchestrator Orchestrator
	Worker       service.EntitySyncer
	Webhooks     WebhookIngester
	Queue        JobQueue
	History      HistoryLister
	Sessions     SessionLister
	Limiter      RateLimiter
}

func NewHandler(deps Dependencies, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator: deps.Orchestrator,
		worker:       deps.Worker,
		webhooks:     deps.Webhooks,
		queue:        deps.Queue,
		history:      deps.History,
		sessions:     deps.Sessions,
		limiter:      deps.Limiter,
		logger:       logger.With("component", "http"),
	}
}

// Webhook accepts change notifications. Once the signature checks out the
// response is always 200 so the sender does not redeliver; failures are
// reported in the body and the logs.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		c.JSON(http.StatusOK, service.WebhookResult{
			Success: true,
			Errors:  []string{fmt.Sprintf("read body: %v", err)},
		})
		return
	}

	if err := h.webhooks.VerifySignature(payload, c.GetHeader(SignatureHeader)); err != nil {
		handleError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, h.webhooks.Ingest(c.Request.Context(), payload))
}

func (h *Handler) Sync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		handleBadRequest(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		handleValidationError(c, err, h.logger)
		return
	}

	orchReq, err := req.ToOrchestrationRequest(c.Param("tenant"))
	if err != nil {
		handleError(c, err, h.logger)
		return
	}

	result, err := h.orchestrator.Run(c.Request.Context(), orchReq)
	if err != nil {
		handleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) SyncEntity(c *gin.Context) {
	entity, err := domain.ParseEntityKind(c.Param("entity"))
	if err != nil {
		handleError(c, err, h.logger)
		return
	}

	var req EntitySyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		handleBadRequest(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		handleValidationError(c, err, h.logger)
		return
	}

	workerReq, err := req.ToWorkerRequest(c.Param("tenant"), entity)
	if err != nil {
		handleError(c, err, h.logger)
		return
	}

	resp, err := h.worker.Sync(c.Request.Context(), workerReq)
	if err != nil {
		handleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, NewEntitySyncResponse(resp))
}

func (h *Handler) EnqueueJob(c *gin.Context) {
	var req EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		handleBadRequest(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		handleValidationError(c, err, h.logger)
		return
	}

	job, err := req.ToJob(c.Param("tenant"))
	if err != nil {
		handleError(c, err, h.logger)
		return
	}

	queued, err := h.queue.Enqueue(c.Request.Context(), job)
	if err != nil {
		handleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, EnqueueJobResponse{Queued: queued, Job: *job})
}

func (h *Handler) ListJobs(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		handleBadRequest(c, err, h.logger)
		return
	}

	jobs, err := h.queue.ListByTenant(c.Request.Context(), c.Param("tenant"), limit)
	if err != nil {
		handleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": nonNil(jobs)})
}

func (h *Handler) ListHistory(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		handleBadRequest(c, err, h.logger)
		return
	}

	runs, err := h.history.List(c.Request.Context(), c.Param("tenant"), limit)
	if err != nil {
		handleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": nonNil(runs)})
}

func (h *Handler) ListSessions(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		handleBadRequest(c, err, h.logger)
		return
	}

	sessions, err := h.sessions.List(c.Request.Context(), c.Param("tenant"), limit)
	if err != nil {
		handleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": nonNil(sessions)})
}

func (h *Handler) RateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.limiter.Stats(c.Param("tenant")))
}

func (h *Handler) ResetRateLimit(c *gin.Context) {
	tenant := c.Param("tenant")
	h.limiter.Reset(tenant)
	h.logger.Info("rate limit reset", "tenant", tenant)
	c.Status(http.StatusNoContent)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// parseLimit reads the limit query parameter, defaulting to 50 and capped at 200.
func parseLimit(c *gin.Context) (int, error) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit < 1 || limit > maxListLimit {
		return 0, fmt.Errorf("invalid limit parameter: must be between 1 and %d", maxListLimit)
	}
	return limit, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
