package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/history-extracts/internal/service"
)

type ExtractsHandler struct {
	service *service.ExtractsService
}

func NewExtractsHandler(service *service.ExtractsService) *ExtractsHandler {
	return &ExtractsHandler{service: service}
}

// GetLatest reports the stamp file and the pointer.
func (h *ExtractsHandler) GetLatest(c *gin.Context) {
	status, err := h.service.Latest()
	if err != nil {
		h.fail(c, err)
		return
	}
	if status.Stamp == "" && status.Pointer == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no extract published yet"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *ExtractsHandler) ListExtracts(c *gin.Context) {
	extracts, err := h.service.ListExtracts()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": extracts, "total": len(extracts)})
}

func (h *ExtractsHandler) GetExtract(c *gin.Context) {
	extract, err := h.service.GetExtract(c.Param("stamp"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, extract)
}

func (h *ExtractsHandler) ListRuns(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && l > 0 {
		limit = l
	}
	if limit > 200 {
		limit = 200
	}

	runs, err := h.service.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs, "total": len(runs)})
}

func (h *ExtractsHandler) GetRun(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *ExtractsHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrHistoryDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("extracts: request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
