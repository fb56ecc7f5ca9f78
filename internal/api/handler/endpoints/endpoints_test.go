package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flowengine"
	"flowengine/internal/api/models"
	"flowengine/internal/api/repo"
	"flowengine/internal/api/service"
	"flowengine/internal/engine"
	"flowengine/internal/engine/processors"
	"flowengine/internal/metrics"
	"flowengine/internal/queue"
	"flowengine/internal/sandbox"
	"flowengine/internal/scheduler"
	"flowengine/pkg"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	queue  *queue.MemoryQueue
	tasks  *service.TaskService
}

func newTestServer(t *testing.T, mode string) *testServer {
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Workflow{}, &models.Execution{}, &models.Trigger{}, &models.TriggerLog{}))
	t.Cleanup(func() {
		if conn, err := db.DB(); err == nil {
			conn.Close()
		}
	})

	cfg := flowengine.AppConfig{Mode: mode}
	cfg.JWTConfig.Secret = "test-secret"

	workflows := repo.NewWorkflowRepository(db)
	executions := repo.NewExecutionRepository(db)
	triggers := repo.NewTriggerRepository(db)
	q := queue.NewMemoryQueue(queue.Options{})
	reg := prometheus.NewRegistry()
	prom := metrics.NewProm("flowengine", reg)

	eng := engine.NewEngine(processors.NewDefaultRegistry(processors.Dependencies{}), engine.Options{}, zerolog.Nop(), prom)
	workflowService := service.NewWorkflowService(workflows, executions, eng, zerolog.Nop())
	taskService := service.NewTaskService(q, workflowService, executions, triggers, zerolog.Nop())
	webhookService := service.NewWebhookService(triggers, taskService, workflowService, prom, 0, zerolog.Nop())
	triggerService := service.NewTriggerService(triggers, workflows, zerolog.Nop())

	router := gin.New()
	SystemHandler(router, cfg, db, sandbox.New(sandbox.Options{}, zerolog.Nop()), reg)
	WorkflowHandler(router, cfg, workflowService, taskService, zerolog.Nop())
	TaskHandler(router, cfg, taskService)
	TriggerHandler(router, cfg, triggerService, zerolog.Nop())
	WebhookHandler(router, webhookService, zerolog.Nop())

	return &testServer{router: router, db: db, queue: q, tasks: taskService}
}

func (slf *testServer) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		raw, _ = json.Marshal(b)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if len(raw) == 0 {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Organization-ID", "org")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	slf.router.ServeHTTP(rec, req)
	return rec
}

func node(id string, nodeType models.NodeType, config any) models.Node {
	raw, _ := json.Marshal(config)
	return models.Node{ID: id, Type: nodeType, Name: id, Config: raw}
}

func (slf *testServer) createWorkflow(t *testing.T) models.Workflow {
	workflow := models.Workflow{
		Name:           "greeting",
		OrganizationID: "org",
		Active:         true,
		Config: models.WorkflowConfig{
			Version: 1,
			Nodes: []models.Node{
				node("in", models.NodeTypeInput, models.InputConfig{Fields: []models.InputField{{Name: "name", Required: true}}}),
				node("out", models.NodeTypeOutput, models.OutputConfig{Format: models.OutputFormatTemplate, Template: "Hello {{in.name}}"}),
			},
			Edges: []models.Edge{{ID: "e1", Source: "in", Target: "out"}},
		},
	}
	require.NoError(t, slf.db.Create(&workflow).Error)
	return workflow
}

func (slf *testServer) createWebhook(t *testing.T, workflowID uint, path, secret string) {
	trigger := models.Trigger{
		Name:           path,
		Type:           models.TriggerTypeWebhook,
		WorkflowID:     workflowID,
		OrganizationID: "org",
		Enabled:        true,
		WebhookPath:    path,
		WebhookSecret:  secret,
	}
	require.NoError(t, slf.db.Create(&trigger).Error)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestExecuteEndpoint(t *testing.T) {
	srv := newTestServer(t, "dev")
	workflow := srv.createWorkflow(t)

	rec := srv.do(http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/execute", workflow.ID), map[string]any{"input": map[string]any{"name": "Ada"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "Hello Ada", body["output"])

	executionID := body["executionId"].(string)
	rec = srv.do(http.MethodGet, "/api/v1/executions/"+executionID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode(t, rec)["status"])

	rec = srv.do(http.MethodGet, "/api/v1/executions/"+executionID, nil, http.Header{"X-Organization-Id": {"other"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(http.MethodGet, fmt.Sprintf("/api/v1/workflows/%d/executions", workflow.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestExecuteEndpoint_Errors(t *testing.T) {
	srv := newTestServer(t, "dev")
	workflow := srv.createWorkflow(t)

	rec := srv.do(http.MethodPost, "/api/v1/workflows/abc/execute", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(http.MethodPost, "/api/v1/workflows/999/execute", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/execute", workflow.ID), nil, http.Header{"X-Organization-Id": {"other"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/execute", workflow.ID), []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A node failure is still a successful call; the failure is in the result.
	rec = srv.do(http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/execute", workflow.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", decode(t, rec)["status"])

	require.NoError(t, srv.db.Model(&workflow).Update("active", false).Error)
	rec = srv.do(http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/execute", workflow.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEnqueueAndPollTask(t *testing.T) {
	srv := newTestServer(t, "dev")
	workflow := srv.createWorkflow(t)
	ctx := context.Background()

	rec := srv.do(http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/enqueue", workflow.ID), map[string]any{"input": map[string]any{"name": "Grace"}}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	accepted := decode(t, rec)
	taskID := accepted["taskId"].(string)
	assert.Equal(t, "/api/v1/tasks/"+taskID, accepted["pollUrl"])

	rec = srv.do(http.MethodGet, "/api/v1/tasks/"+taskID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	polled := decode(t, rec)
	assert.Equal(t, "pending", polled["status"])
	assert.NotContains(t, polled, "startedAt")

	rec = srv.do(http.MethodGet, "/api/v1/tasks/"+taskID, nil, http.Header{"X-Organization-Id": {"other"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	task, err := srv.queue.Claim(ctx, "worker-1")
	require.NoError(t, err)
	outcome, err := srv.tasks.Execute(ctx, *task)
	require.NoError(t, err)
	require.NoError(t, srv.queue.Complete(ctx, task.ID, "worker-1", outcome.ExecutionID, outcome.Output))

	rec = srv.do(http.MethodGet, "/api/v1/tasks/"+taskID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	polled = decode(t, rec)
	assert.Equal(t, "completed", polled["status"])
	assert.Equal(t, "Hello Grace", polled["result"])
	assert.Contains(t, polled, "completedAt")

	rec = srv.do(http.MethodGet, "/api/v1/tasks/"+taskID+"/details", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode(t, rec)
	require.Contains(t, details, "execution")
	assert.Equal(t, outcome.ExecutionID, details["execution"].(map[string]any)["id"])

	rec = srv.do(http.MethodGet, "/api/v1/tasks/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteNodeEndpoint(t *testing.T) {
	srv := newTestServer(t, "dev")
	workflow := srv.createWorkflow(t)

	rec := srv.do(http.MethodDelete, fmt.Sprintf("/api/v1/workflows/%d/nodes/out", workflow.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Len(t, updated.Config.Nodes, 1)
	assert.Empty(t, updated.Config.Edges)

	rec = srv.do(http.MethodDelete, fmt.Sprintf("/api/v1/workflows/%d/nodes/out", workflow.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookEndpoint(t *testing.T) {
	srv := newTestServer(t, "dev")
	workflow := srv.createWorkflow(t)
	srv.createWebhook(t, workflow.ID, "open", "")
	srv.createWebhook(t, workflow.ID, "signed", "s3cret")

	rec := srv.do(http.MethodPost, "/api/v1/webhooks/open", map[string]any{"input": map[string]any{"name": "Ada"}}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	taskID := decode(t, rec)["taskId"].(string)
	task, err := srv.queue.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", task.Input["name"])

	body := []byte(`{"input":{"name":"Ada"},"async":false}`)
	rec = srv.do(http.MethodPost, "/api/v1/webhooks/signed", body, http.Header{
		scheduler.SignatureHeader: {scheduler.SignWebhook("s3cret", body, time.Now())},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Hello Ada", decode(t, rec)["output"])

	failing := []byte(`{"async":false}`)
	rec = srv.do(http.MethodPost, "/api/v1/webhooks/signed", failing, http.Header{
		scheduler.SignatureHeader: {scheduler.SignWebhook("s3cret", failing, time.Now())},
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed", decode(t, rec)["status"])

	rec = srv.do(http.MethodPost, "/api/v1/webhooks/signed", body, http.Header{
		scheduler.SignatureHeader: {scheduler.SignWebhook("wrong", body, time.Now())},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(http.MethodPost, "/api/v1/webhooks/signed", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(http.MethodPost, "/api/v1/webhooks/missing", body, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(http.MethodPost, "/api/v1/webhooks/open", []byte("[1,2"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerEndpoints(t *testing.T) {
	srv := newTestServer(t, "dev")
	workflow := srv.createWorkflow(t)

	rec := srv.do(http.MethodPost, "/api/v1/triggers", map[string]any{
		"name":          "inbound",
		"type":          "WEBHOOK",
		"workflowId":    workflow.ID,
		"webhookPath":   "inbound",
		"webhookSecret": "s3cret",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.Equal(t, false, created["enabled"])
	assert.Equal(t, true, created["signed"])
	assert.NotContains(t, created, "webhookSecret")
	assert.Equal(t, "/api/v1/webhooks/inbound", created["webhookUrl"])
	id := uint(created["id"].(float64))

	rec = srv.do(http.MethodPost, "/api/v1/webhooks/inbound", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "disabled triggers do not accept calls")

	rec = srv.do(http.MethodPost, fmt.Sprintf("/api/v1/triggers/%d/activate", id), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["enabled"])

	rec = srv.do(http.MethodPut, fmt.Sprintf("/api/v1/triggers/%d", id), map[string]any{"name": "renamed", "maxRetries": 2}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "renamed", decode(t, rec)["name"])

	rec = srv.do(http.MethodPost, "/api/v1/triggers", map[string]any{
		"name": "bad", "type": "SCHEDULE", "workflowId": workflow.ID, "cronExpression": "every day",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(http.MethodPost, "/api/v1/triggers", map[string]any{"name": "bad", "type": "EMAIL", "workflowId": workflow.ID}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(http.MethodGet, "/api/v1/triggers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = srv.do(http.MethodGet, fmt.Sprintf("/api/v1/triggers/%d/logs", id), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(http.MethodGet, fmt.Sprintf("/api/v1/triggers/%d", id), nil, http.Header{"X-Organization-Id": {"other"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(http.MethodDelete, fmt.Sprintf("/api/v1/triggers/%d", id), nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSystemEndpoints(t *testing.T) {
	srv := newTestServer(t, "dev")

	rec := srv.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = srv.do(http.MethodGet, "/api/v1/sandbox/capabilities", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	caps := decode(t, rec)
	assert.Equal(t, false, caps["enabled"])
	assert.Contains(t, caps["languages"], "python")

	rec = srv.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flowengine_run_duration_seconds")
}

func TestAuthMiddlewareWithTokens(t *testing.T) {
	srv := newTestServer(t, "prod")
	workflow := srv.createWorkflow(t)
	url := fmt.Sprintf("/api/v1/workflows/%d/execute", workflow.ID)

	rec := srv.do(http.MethodPost, url, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(http.MethodPost, url, nil, http.Header{"Authorization": {"Token abc"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := pkg.GenerateToken("user-1", "org", "a@b.c", "member", "test-secret", time.Hour)
	require.NoError(t, err)
	rec = srv.do(http.MethodPost, url, map[string]any{"input": map[string]any{"name": "Ada"}}, http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The organization comes from the token, never from headers.
	other, err := pkg.GenerateToken("user-2", "other", "", "", "test-secret", time.Hour)
	require.NoError(t, err)
	rec = srv.do(http.MethodPost, url, nil, http.Header{"Authorization": {"Bearer " + other}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Webhooks and health stay reachable without a token.
	rec = srv.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
