package endpoints

import (
	"net/http"

	"flowengine"
	"flowengine/internal/api/handler/mapper"
	"flowengine/internal/api/handler/middleware"
	"flowengine/internal/api/service"
	"flowengine/pkg"

	"github.com/gin-gonic/gin"
)

type taskHandler struct {
	taskService *service.TaskService
}

func TaskHandler(router gin.IRouter, cfg flowengine.AppConfig, tasks *service.TaskService) {
	h := &taskHandler{taskService: tasks}

	routes := router.Group("/api/v1/tasks")
	routes.Use(middleware.AuthMiddleware(cfg))
	{
		routes.GET("/:taskId", h.get)
		routes.GET("/:taskId/details", h.details)
	}
}

func (slf *taskHandler) get(c *gin.Context) {
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	task, err := slf.taskService.GetTask(c.Request.Context(), c.Param("taskId"), orgID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ToTaskResponse(task))
}

func (slf *taskHandler) details(c *gin.Context) {
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	details, err := slf.taskService.GetTaskWithDetails(c.Request.Context(), c.Param("taskId"), orgID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}
