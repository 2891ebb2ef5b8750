package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ayusman/produkscan/internal/logger"
	"github.com/ayusman/produkscan/internal/store"
)

// DetectionHandler serves the detection history.
type DetectionHandler struct {
	store *store.Store
}

// NewDetectionHandler creates a DetectionHandler with the given store.
func NewDetectionHandler(s *store.Store) *DetectionHandler {
	return &DetectionHandler{store: s}
}

type listDetectionsResponse struct {
	Detections []*store.Detection `json:"detections"`
}

// List handles GET /api/detections?limit=N.
func (h *DetectionHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	detections, err := h.store.Detections().List(limit)
	if err != nil {
		logger.Log().Error("failed to list detections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to list detections"})
		return
	}
	if detections == nil {
		detections = []*store.Detection{}
	}

	c.JSON(http.StatusOK, listDetectionsResponse{Detections: detections})
}

// Get handles GET /api/detections/:id.
func (h *DetectionHandler) Get(c *gin.Context) {
	d, err := h.store.Detections().GetByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "Detection not found"})
			return
		}
		logger.Log().Error("failed to get detection", zap.String("id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to get detection"})
		return
	}

	c.JSON(http.StatusOK, d)
}

// Delete handles DELETE /api/detections/:id.
func (h *DetectionHandler) Delete(c *gin.Context) {
	if err := h.store.Detections().Delete(c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "Detection not found"})
			return
		}
		logger.Log().Error("failed to delete detection", zap.String("id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to delete detection"})
		return
	}

	c.Status(http.StatusNoContent)
}
