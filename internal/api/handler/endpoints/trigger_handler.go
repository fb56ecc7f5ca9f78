package endpoints

import (
	"context"
	"net/http"
	"strconv"

	"flowengine"
	"flowengine/internal/api/handler/mapper"
	"flowengine/internal/api/handler/middleware"
	"flowengine/internal/api/handler/request"
	"flowengine/internal/api/handler/response"
	"flowengine/internal/api/models"
	"flowengine/internal/api/service"
	"flowengine/pkg"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type triggerHandler struct {
	triggerService *service.TriggerService
	triggerMapper  mapper.TriggerMapper
	logger         zerolog.Logger
}

func TriggerHandler(router gin.IRouter, cfg flowengine.AppConfig, triggers *service.TriggerService, logger zerolog.Logger) {
	h := &triggerHandler{
		triggerService: triggers,
		triggerMapper:  mapper.NewTriggerMapper(cfg.Webhook.PublicBaseURL),
		logger:         logger,
	}

	routes := router.Group("/api/v1/triggers")
	routes.Use(middleware.AuthMiddleware(cfg))
	{
		// CRUD operations
		routes.GET("", h.getAll)
		routes.GET("/:id", h.getByID)
		routes.POST("", h.create)
		routes.PUT("/:id", h.update)
		routes.DELETE("/:id", h.delete)

		// Status operations
		routes.POST("/:id/activate", h.activate)
		routes.POST("/:id/pause", h.pause)

		// Firing history
		routes.GET("/:id/logs", h.getLogs)
	}
}

// getAll returns all triggers of the caller's organization
func (slf *triggerHandler) getAll(c *gin.Context) {
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	triggers, err := slf.triggerService.FindAll(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.APIError{Message: "Failed to retrieve triggers"})
		return
	}
	c.JSON(http.StatusOK, slf.triggerMapper.ToTriggerResponses(triggers))
}

func (slf *triggerHandler) getByID(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	trigger, err := slf.triggerService.FindByID(c.Request.Context(), id, orgID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, slf.triggerMapper.ToTriggerResponse(trigger))
}

func (slf *triggerHandler) create(c *gin.Context) {
	userID, ok := pkg.GetUserID(c)
	if !ok {
		return
	}
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	var dto request.CreateTrigger
	if err := pkg.ParseAndValidate(c, &dto); err != nil {
		slf.logger.Error().Err(err).Msg("Error parsing and validating create trigger DTO")
		c.JSON(http.StatusBadRequest, response.APIError{Message: err.Error()})
		return
	}

	trigger, err := slf.triggerService.Create(c.Request.Context(), slf.triggerMapper.CreateTrigger(dto, orgID, userID))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, slf.triggerMapper.ToTriggerResponse(trigger))
}

func (slf *triggerHandler) update(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	var dto request.UpdateTrigger
	if err := pkg.ParseAndValidate(c, &dto); err != nil {
		c.JSON(http.StatusBadRequest, response.APIError{Message: err.Error()})
		return
	}

	trigger, err := slf.triggerService.FindByID(c.Request.Context(), id, orgID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	slf.triggerMapper.PatchTrigger(&trigger, dto)
	trigger, err = slf.triggerService.Update(c.Request.Context(), trigger)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, slf.triggerMapper.ToTriggerResponse(trigger))
}

func (slf *triggerHandler) delete(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	if err := slf.triggerService.Delete(c.Request.Context(), id, orgID); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (slf *triggerHandler) activate(c *gin.Context) {
	slf.setStatus(c, slf.triggerService.Activate)
}

func (slf *triggerHandler) pause(c *gin.Context) {
	slf.setStatus(c, slf.triggerService.Pause)
}

func (slf *triggerHandler) setStatus(c *gin.Context, apply func(ctx context.Context, id uint, organizationID string) (models.Trigger, error)) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	trigger, err := apply(c.Request.Context(), id, orgID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, slf.triggerMapper.ToTriggerResponse(trigger))
}

func (slf *triggerHandler) getLogs(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	logs, err := slf.triggerService.GetRecentLogs(c.Request.Context(), id, orgID, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
