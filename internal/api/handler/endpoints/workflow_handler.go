package endpoints

import (
	"net/http"
	"strconv"

	"flowengine"
	"flowengine/internal/api/handler/mapper"
	"flowengine/internal/api/handler/middleware"
	"flowengine/internal/api/handler/request"
	"flowengine/internal/api/handler/response"
	"flowengine/internal/api/service"
	"flowengine/pkg"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type workflowHandler struct {
	workflowService *service.WorkflowService
	taskService     *service.TaskService
	logger          zerolog.Logger
}

func WorkflowHandler(router gin.IRouter, cfg flowengine.AppConfig, workflows *service.WorkflowService, tasks *service.TaskService, logger zerolog.Logger) {
	h := &workflowHandler{
		workflowService: workflows,
		taskService:     tasks,
		logger:          logger,
	}

	routes := router.Group("/api/v1")
	routes.Use(middleware.AuthMiddleware(cfg))
	{
		routes.POST("/workflows/:id/execute", h.execute)
		routes.POST("/workflows/:id/enqueue", h.enqueue)
		routes.GET("/workflows/:id/executions", h.listExecutions)
		routes.DELETE("/workflows/:id/nodes/:nodeId", h.deleteNode)
		routes.GET("/executions/:id", h.getExecution)
	}
}

// execute runs the workflow inline and answers with the full result
func (slf *workflowHandler) execute(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	userID, ok := pkg.GetUserID(c)
	if !ok {
		return
	}
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	var dto request.ExecuteWorkflow
	if err := parseOptionalBody(c, &dto); err != nil {
		c.JSON(http.StatusBadRequest, response.APIError{Message: err.Error()})
		return
	}

	result, err := slf.workflowService.ExecuteWorkflow(c.Request.Context(), service.ExecuteRequest{
		WorkflowID:     id,
		OrganizationID: orgID,
		ActorID:        userID,
		Input:          dto.Input,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (slf *workflowHandler) enqueue(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	userID, ok := pkg.GetUserID(c)
	if !ok {
		return
	}
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	var dto request.ExecuteWorkflow
	if err := parseOptionalBody(c, &dto); err != nil {
		c.JSON(http.StatusBadRequest, response.APIError{Message: err.Error()})
		return
	}

	taskID, err := slf.taskService.EnqueueWorkflow(c.Request.Context(), id, orgID, userID, dto.Input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, mapper.ToTaskAccepted(taskID))
}

func (slf *workflowHandler) listExecutions(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	executions, err := slf.workflowService.ListExecutions(c.Request.Context(), id, orgID, limit)
	if err != nil {
		slf.logger.Error().Err(err).Uint("workflowId", id).Msg("Failed to list executions")
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, executions)
}

// deleteNode removes a node and the edges touching it, answering with the updated workflow
func (slf *workflowHandler) deleteNode(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}

	workflow, err := slf.workflowService.DeleteNode(c.Request.Context(), id, orgID, c.Param("nodeId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflow)
}

func (slf *workflowHandler) getExecution(c *gin.Context) {
	orgID, ok := pkg.GetOrganizationID(c)
	if !ok {
		return
	}
	execution, err := slf.workflowService.GetExecution(c.Request.Context(), c.Param("id"), orgID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}
