package handlers

import (
	"net/http"

	"example.com/cityevents/services/ingestion/internal/models"
	"example.com/cityevents/services/ingestion/internal/pipeline"
	"example.com/cityevents/services/ingestion/internal/runs"
	"example.com/cityevents/services/ingestion/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// IngestHandler handles ingestion HTTP requests
type IngestHandler struct {
	orchestrator *pipeline.Orchestrator
	runs         *runs.Repository
	tracer       tracing.Tracer
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(orchestrator *pipeline.Orchestrator, runRepo *runs.Repository, tracer tracing.Tracer) *IngestHandler {
	return &IngestHandler{
		orchestrator: orchestrator,
		runs:         runRepo,
		tracer:       tracer,
	}
}

// IngestRequest represents an incoming ingestion batch
type IngestRequest struct {
	RunName   string             `json:"runName"`
	Events    []models.RawRecord `json:"events" binding:"required"`
	Source    string             `json:"source" binding:"required"`
	EventType string             `json:"eventType"`
}

// IngestResponse reports the outcome of a batch
type IngestResponse struct {
	RunName         string   `json:"runName"`
	EventIDs        []string `json:"eventIds"`
	NormalizedCount int      `json:"normalizedCount"`
	SkippedCount    int      `json:"skippedCount"`
	SavedEvents     int      `json:"savedEvents"`
	ExistingCount   int      `json:"existingCount"`
	IndexedCount    int      `json:"indexedCount"`
	FailedIDs       []string `json:"failedIds,omitempty"`
}

// HandleIngest accepts a raw batch and runs the pipeline synchronously
func (h *IngestHandler) HandleIngest(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-ingest")
	defer h.tracer.EndTransaction(txn)

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	// Generate a run name if not provided; the caller loses replay
	// protection but ad-hoc batches stay one-line simple
	if req.RunName == "" {
		req.RunName = uuid.NewString()
	}
	if req.EventType == "" {
		req.EventType = string(models.EntityEvent)
	}

	h.tracer.AddAttribute(txn, "run_name", req.RunName)
	h.tracer.AddAttribute(txn, "source", req.Source)
	h.tracer.AddAttribute(txn, "records", len(req.Events))

	result, err := h.orchestrator.Run(c.Request.Context(), pipeline.IngestRequest{
		RunName:    req.RunName,
		Events:     req.Events,
		Source:     req.Source,
		EntityType: models.EntityType(req.EventType),
	})
	if err != nil {
		h.tracer.RecordError(txn, err)

		if errors.Is(err, pipeline.ErrDuplicateRun) {
			c.JSON(http.StatusConflict, gin.H{"error": "run name already used", "runName": req.RunName})
			return
		}

		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			log.Error().Err(stageErr.Cause).Str("stage", stageErr.Stage).Msg("Ingestion failed")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": stageErr.Error(),
				"stage": stageErr.Stage,
				"cause": stageErr.Cause.Error(),
			})
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, IngestResponse{
		RunName:         req.RunName,
		EventIDs:        result.EventIDs,
		NormalizedCount: result.NormalizedCount,
		SkippedCount:    result.SkippedCount,
		SavedEvents:     result.PersistedCount,
		ExistingCount:   result.ExistingCount,
		IndexedCount:    result.IndexedCount,
		FailedIDs:       result.FailedIDs,
	})
}

// HandleGetRun returns the recorded state of a past run
func (h *IngestHandler) HandleGetRun(c *gin.Context) {
	name := c.Param("name")

	run, err := h.runs.GetByName(c.Request.Context(), name)
	if err != nil {
		if errors.Is(errors.Cause(err), gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		log.Error().Err(err).Str("run", name).Msg("Failed to fetch run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, run)
}

// RegisterRoutes registers the handler's routes
func (h *IngestHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.POST("/ingest", h.HandleIngest)
	v1.GET("/runs/:name", h.HandleGetRun)
}
