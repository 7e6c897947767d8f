package handlers

import (
	"errors"
	"net/http"

	"model-lifecycle-service/internal/adapters/primary/http/dto"
	"model-lifecycle-service/internal/core/domain"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) Health(c *gin.Context) {
	resp := dto.ToHealthResponse(h.gateway.Status())
	if !resp.ModelLoaded {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Predict(c *gin.Context) {
	var req dto.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prediction, err := h.gateway.Predict(req.Features)
	if err != nil {
		if errors.Is(err, domain.ErrModelNotLoaded) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model not initialized"})
			return
		}
		if errors.Is(err, domain.ErrInvalidFeatures) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.WithError(err).Error("prediction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed due to internal error"})
		return
	}

	c.JSON(http.StatusOK, dto.PredictResponse{Prediction: prediction})
}
