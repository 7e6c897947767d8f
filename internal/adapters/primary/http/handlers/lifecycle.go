package handlers

import (
	"net/http"
	"strconv"

	"model-lifecycle-service/internal/adapters/primary/http/dto"
	"model-lifecycle-service/internal/core/domain"
	"model-lifecycle-service/internal/core/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) ListVersions(c *gin.Context) {
	view, err := h.lifecycle.ListVersions(c.Request.Context(), c.Param("name"))
	if err != nil {
		log.WithError(err).Error("list versions failed")
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToListVersionsResponse(view))
}

func (h *Handler) PromoteCandidate(c *gin.Context) {
	var req dto.PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	direction, err := domain.ParseDirection(req.Direction)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	metric := req.Metric
	if metric == "" {
		metric = domain.DefaultMetric
	}

	autoProduction := h.autoProduction
	if req.AutoProduction != nil {
		autoProduction = *req.AutoProduction
	}

	result, err := h.lifecycle.PromoteCandidate(c.Request.Context(), services.PromoteRequest{
		RunID:          req.RunID,
		ModelName:      c.Param("name"),
		Metric:         metric,
		Direction:      direction,
		AutoProduction: autoProduction,
	})
	resp := dto.ToPromotionResponse(result)
	if err != nil {
		log.WithError(err).WithField("model", c.Param("name")).Warn("promote candidate failed")
		resp.Error = errorMessage(err)
		c.JSON(statusForError(err), resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) PromoteToProduction(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidVersion.Error()})
		return
	}

	result, err := h.lifecycle.PromoteStagingToProduction(c.Request.Context(), c.Param("name"), version)
	resp := dto.ToPromotionResponse(result)
	if err != nil {
		log.WithError(err).WithField("model", c.Param("name")).Error("promote to production failed")
		resp.Error = errorMessage(err)
		c.JSON(statusForError(err), resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Rollback(c *gin.Context) {
	result, err := h.lifecycle.RollbackProduction(c.Request.Context(), c.Param("name"))
	resp := dto.ToRollbackResponse(result)
	if err != nil {
		log.WithError(err).WithField("model", c.Param("name")).Error("rollback failed")
		resp.Error = errorMessage(err)
		c.JSON(statusForError(err), resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}
