package handlers

import (
	"model-lifecycle-service/internal/core/services"
	"model-lifecycle-service/internal/serving"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	gateway        *serving.Gateway
	lifecycle      *services.LifecycleController
	autoProduction bool
}

// New builds the HTTP handlers. lifecycle may be nil when the lifecycle API
// is disabled.
func New(gateway *serving.Gateway, lifecycle *services.LifecycleController, autoProduction bool) *Handler {
	return &Handler{
		gateway:        gateway,
		lifecycle:      lifecycle,
		autoProduction: autoProduction,
	}
}

// RegisterServingRoutes mounts the model server endpoints at the root.
func (h *Handler) RegisterServingRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.POST("/predict", h.Predict)
	r.GET("/metrics", gin.WrapH(h.gateway.Metrics().Handler()))
}

// RegisterLifecycleRoutes mounts the promotion and rollback API.
func (h *Handler) RegisterLifecycleRoutes(r *gin.RouterGroup) {
	r.GET("/models/:name/versions", h.ListVersions)
	r.POST("/models/:name/promote", h.PromoteCandidate)
	r.POST("/models/:name/versions/:version/production", h.PromoteToProduction)
	r.POST("/models/:name/rollback", h.Rollback)
}
