package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parkstatus-backend/internal/model"
	"parkstatus-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store       store.Store
	checkpoints store.CheckpointStore
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, cps store.CheckpointStore) *Handler {
	return &Handler{store: s, checkpoints: cps}
}

// Healthz reports liveness.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// importResponse is the wire shape of one checkpoint.
type importResponse struct {
	ImportID          string             `json:"importId"`
	DestinationID     string             `json:"destinationId"`
	Status            model.ImportStatus `json:"status"`
	RecordsImported   int64              `json:"recordsImported"`
	ErrorsEncountered int64              `json:"errorsEncountered"`
	LastProcessedFile string             `json:"lastProcessedFile,omitempty"`
	LastProcessedDate *time.Time         `json:"lastProcessedDate,omitempty"`
	StartedAt         time.Time          `json:"startedAt"`
	CompletedAt       *time.Time         `json:"completedAt,omitempty"`
	CanResume         bool               `json:"canResume"`
}

func toImportResponse(cp *model.ImportCheckpoint) importResponse {
	return importResponse{
		ImportID:          cp.ImportID,
		DestinationID:     cp.DestinationID,
		Status:            cp.Status,
		RecordsImported:   cp.RecordsImported,
		ErrorsEncountered: cp.ErrorsEncountered,
		LastProcessedFile: cp.LastProcessedFile,
		LastProcessedDate: cp.LastProcessedDate,
		StartedAt:         cp.StartedAt,
		CompletedAt:       cp.CompletedAt,
		CanResume:         cp.CanResume(),
	}
}

// ListActiveImports handles GET /imports.
func (h *Handler) ListActiveImports(c *gin.Context) {
	cps, err := h.checkpoints.GetActive(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to list imports"})
		return
	}

	out := make([]importResponse, 0, len(cps))
	for i := range cps {
		out = append(out, toImportResponse(&cps[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetImport handles GET /imports/{import_id}.
func (h *Handler) GetImport(c *gin.Context) {
	cp, err := h.checkpoints.Get(c.Request.Context(), c.Param("import_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load import"})
		return
	}
	if cp == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Import not found"})
		return
	}
	c.JSON(http.StatusOK, toImportResponse(cp))
}

// PauseImport handles POST /imports/{import_id}/pause. The running job
// observes the request at its next file boundary.
func (h *Handler) PauseImport(c *gin.Context) {
	h.transition(c, h.checkpoints.RequestPause)
}

// CancelImport handles POST /imports/{import_id}/cancel.
func (h *Handler) CancelImport(c *gin.Context) {
	h.transition(c, h.checkpoints.RequestCancel)
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, importID string) (bool, error)) {
	ok, err := fn(c.Request.Context(), c.Param("import_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to update import"})
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Import is not in progress"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
