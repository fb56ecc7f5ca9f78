package endpoints

import (
	"errors"
	"net/http"
	"strconv"

	"flowengine/internal/api/handler/response"
	"flowengine/internal/api/models"
	"flowengine/internal/api/repo"
	"flowengine/internal/api/service"
	"flowengine/internal/engine"
	"flowengine/internal/queue"
	"flowengine/pkg"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repo.ErrWorkflowNotFound),
		errors.Is(err, repo.ErrExecutionNotFound),
		errors.Is(err, repo.ErrTriggerNotFound),
		errors.Is(err, queue.ErrTaskNotFound),
		errors.Is(err, models.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrWebhookUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidTrigger),
		errors.Is(err, service.ErrInvalidWebhookBody),
		errors.Is(err, engine.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrWorkflowInactive),
		errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError answers with the mapped status. Internal details stay in the logs.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	c.JSON(status, response.APIError{Message: message})
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.APIError{Message: "Invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// parseOptionalBody binds the JSON body when one was sent.
func parseOptionalBody(c *gin.Context, dto interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return pkg.ParseAndValidate(c, dto)
}
