package handlers

import (
	"errors"
	"net/http"

	"model-lifecycle-service/internal/core/domain"

	"github.com/gin-gonic/gin"
)

func statusForError(err error) int {
	switch {
	// A failed restore leaves no Production version, whatever the cause.
	case errors.Is(err, domain.ErrRollbackPromotionFailed):
		return http.StatusServiceUnavailable

	// Not found errors
	case errors.Is(err, domain.ErrVersionNotFound),
		errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound

	// Bad request / validation errors
	case errors.Is(err, domain.ErrInvalidModelName),
		errors.Is(err, domain.ErrInvalidRunID),
		errors.Is(err, domain.ErrInvalidMetric),
		errors.Is(err, domain.ErrInvalidDirection),
		errors.Is(err, domain.ErrInvalidVersion),
		errors.Is(err, domain.ErrMetricNotFound),
		errors.Is(err, domain.ErrInvalidFeatures):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, domain.ErrPromotionRejected),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNoRollbackTarget),
		errors.Is(err, domain.ErrInconsistentRegistry):
		return http.StatusConflict

	// Service unavailable errors
	case errors.Is(err, domain.ErrRegistryUnavailable),
		errors.Is(err, domain.ErrModelNotLoaded):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides the detail of unexpected failures from clients.
func errorMessage(err error) string {
	if statusForError(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

func mapDomainError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": errorMessage(err)})
}
