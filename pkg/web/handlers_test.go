package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cadenzahq/cadenza/pkg/contextstore"
	"github.com/cadenzahq/cadenza/pkg/coordinator"
	"github.com/cadenzahq/cadenza/pkg/engine"
	"github.com/cadenzahq/cadenza/pkg/governor"
	"github.com/cadenzahq/cadenza/pkg/handoff"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/orchestrator"
	"github.com/cadenzahq/cadenza/pkg/persistence/memory"
	"github.com/cadenzahq/cadenza/pkg/policy"
	"github.com/cadenzahq/cadenza/pkg/registry"
	"github.com/cadenzahq/cadenza/pkg/runtimes/echo"
	"github.com/cadenzahq/cadenza/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	app   *fiber.App
	store *memory.Persistence
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	logger := slog.Default()
	store := memory.NewPersistence()

	gov := governor.NewGovernor(governor.Config{
		ApprovalTimeout:         time.Minute,
		DefaultAutoApproveLimit: 1000,
	}, store, nil, logger)

	reg := registry.NewRegistry(logger)
	for _, agentType := range models.AllAgentTypes() {
		reg.Register(echo.NewFactory(agentType))
	}

	artifacts := contextstore.NewStore(store, logger)
	handoffs := handoff.NewManager(handoff.NewDefaultRegistry(), artifacts, logger)

	coord := coordinator.NewCoordinator(coordinator.Config{ExecutionTimeout: time.Second},
		policy.NewService(store), gov, store, artifacts, reg, nil, logger,
		coordinator.WithOutputValidator(handoffs))

	workflows := workflow.NewRepository(store)

	quick := workflow.DefaultDelivery()
	quick.Steps[len(quick.Steps)-1].HITLRequired = false
	require.NoError(t, workflows.Save(context.Background(), quick))

	eng := engine.NewEngine(engine.Config{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Millisecond},
	}, coord, workflows, store, store, nil, logger)

	core := orchestrator.NewCore(store, eng, logger)
	tracker := orchestrator.NewStatusTracker(logger)

	handlers := NewAPIHandlers(core, coord, gov, handoffs, workflows, tracker, logger)

	app := fiber.New()
	handlers.Register(app)

	return &testAPI{app: app, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second, FailOnTimeout: true})
	require.NoError(t, err)

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer resp.Body.Close()

	var out T

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func (a *testAPI) createProject(t *testing.T, name string) *models.Project {
	t.Helper()

	resp := a.do(t, http.MethodPost, "/projects/", CreateProjectRequest{Name: name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decode[*models.Project](t, resp)
}

func TestCreateAndGetProject(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")
	assert.Equal(t, models.PhaseDiscovery, project.CurrentPhase)

	resp := api.do(t, http.MethodGet, "/projects/"+project.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[*models.Project](t, resp)
	assert.Equal(t, project.ID, got.ID)
}

func TestCreateProjectValidationProblem(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/projects/", CreateProjectRequest{Name: "ab"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	problem := decode[map[string]any](t, resp)
	assert.Equal(t, "validation_error", problem["type"])
}

func TestGetProjectNotFoundProblem(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/projects/project-missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	problem := decode[map[string]any](t, resp)
	assert.Equal(t, "not_found", problem["type"])
}

func TestCreateTaskPolicyViolationProblem(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	// A coder may not act during discovery.
	resp := api.do(t, http.MethodPost, "/projects/"+project.ID+"/tasks", CreateTaskRequest{
		AgentType:    models.AgentCoder,
		Instructions: "write code",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	problem := decode[map[string]any](t, resp)
	assert.Equal(t, "policy_violation", problem["type"])
}

func TestCreateTaskAllowed(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	resp := api.do(t, http.MethodPost, "/projects/"+project.ID+"/tasks", CreateTaskRequest{
		AgentType:    models.AgentAnalyst,
		Instructions: "gather requirements",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	task := decode[*models.Task](t, resp)
	assert.Equal(t, models.TaskStatusPending, task.Status)
}

func TestRunWorkflowLifecycle(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	resp := api.do(t, http.MethodPost, "/projects/"+project.ID+"/runs", RunWorkflowRequest{WorkflowID: "delivery"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	state := decode[*models.WorkflowExecutionState](t, resp)
	require.NotEmpty(t, state.ID)

	api.waitForRun(t, state.ID, models.ExecutionStatusCompleted)

	statusResp := api.do(t, http.MethodGet, "/projects/"+project.ID+"/status", nil)
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	report := decode[*orchestrator.StatusReport](t, statusResp)
	assert.Equal(t, models.ProjectStatusCompleted, report.Project.Status)
	assert.Len(t, report.Tasks, 5)
	assert.Len(t, report.Artifacts, 5)
}

func TestRunWorkflowUnknownWorkflow(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	resp := api.do(t, http.MethodPost, "/projects/"+project.ID+"/runs", RunWorkflowRequest{WorkflowID: "nope"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResumeTerminalRunConflict(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	resp := api.do(t, http.MethodPost, "/projects/"+project.ID+"/runs", RunWorkflowRequest{WorkflowID: "delivery"})
	state := decode[*models.WorkflowExecutionState](t, resp)

	api.waitForRun(t, state.ID, models.ExecutionStatusCompleted)

	resumeResp := api.do(t, http.MethodPost, "/runs/"+state.ID+"/resume", nil)
	require.Equal(t, http.StatusConflict, resumeResp.StatusCode)

	problem := decode[map[string]any](t, resumeResp)
	assert.Equal(t, "execution_terminal", problem["type"])
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	// Mandatory approval for every analyst task on this project.
	resp := api.do(t, http.MethodPut, "/projects/"+project.ID+"/approval-mode/analyst", SetApprovalModeRequest{Enabled: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	runResp := api.do(t, http.MethodPost, "/projects/"+project.ID+"/runs", RunWorkflowRequest{WorkflowID: "delivery"})
	require.Equal(t, http.StatusAccepted, runResp.StatusCode)

	state := decode[*models.WorkflowExecutionState](t, runResp)

	request := api.waitForApproval(t, project.ID)

	approveResp := api.do(t, http.MethodPost, "/approvals/"+request.ID+"/approve", ResolveApprovalRequest{ResolvedBy: "alice"})
	require.Equal(t, http.StatusOK, approveResp.StatusCode)

	result := decode[*ResolveApprovalResponse](t, approveResp)
	assert.True(t, result.Resolved)
	assert.Equal(t, models.ApprovalStatusApproved, result.Request.Status)

	api.waitForRun(t, state.ID, models.ExecutionStatusCompleted)
}

func TestBudgetEndpoints(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	setResp := api.do(t, http.MethodPut, "/projects/"+project.ID+"/budgets/coder", SetBudgetRequest{Limit: 50})
	require.Equal(t, http.StatusOK, setResp.StatusCode)

	getResp := api.do(t, http.MethodGet, "/projects/"+project.ID+"/budgets/coder", nil)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	budget := decode[*models.BudgetControl](t, getResp)
	assert.Equal(t, int64(50), budget.Limit)
	assert.Zero(t, budget.Used)

	missingResp := api.do(t, http.MethodGet, "/projects/"+project.ID+"/budgets/tester", nil)
	require.Equal(t, http.StatusNotFound, missingResp.StatusCode)
}

func TestCounterEndpoints(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	setResp := api.do(t, http.MethodPut, "/projects/"+project.ID+"/counters/coder", SetCounterRequest{Limit: 7})
	require.Equal(t, http.StatusOK, setResp.StatusCode)

	counter := decode[*models.AutoApproveCounter](t, setResp)
	assert.Equal(t, int64(7), counter.Remaining)

	getResp := api.do(t, http.MethodGet, "/projects/"+project.ID+"/counters/coder", nil)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestEmergencyStopEndpoints(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	triggerResp := api.do(t, http.MethodPost, "/emergency-stops/", TriggerStopRequest{
		ProjectID:   project.ID,
		Reason:      "incident",
		TriggeredBy: "ops",
	})
	require.Equal(t, http.StatusCreated, triggerResp.StatusCode)

	result := decode[*TriggerStopResponse](t, triggerResp)
	require.NotNil(t, result.Stop)
	assert.True(t, result.Stop.Active)

	clearResp := api.do(t, http.MethodPost, "/emergency-stops/"+result.Stop.ID+"/clear", ClearStopRequest{ClearedBy: "ops"})
	require.Equal(t, http.StatusOK, clearResp.StatusCode)

	cleared := decode[*models.EmergencyStop](t, clearResp)
	assert.False(t, cleared.Active)
}

func TestHandoffEndpoint(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	resp := api.do(t, http.MethodPost, "/handoffs", HandoffRequest{
		ProjectID:       project.ID,
		SourceAgentType: models.AgentAnalyst,
		TargetAgentType: models.AgentArchitect,
		HandoffType:     "requirements",
		Content:         json.RawMessage(`{"summary":"checkout flow","requirements":["refunds"]}`),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	artifact := decode[*models.ContextArtifact](t, resp)
	assert.Equal(t, "requirements", artifact.ArtifactType)
}

func TestHandoffValidationProblem(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	resp := api.do(t, http.MethodPost, "/handoffs", HandoffRequest{
		ProjectID:       project.ID,
		SourceAgentType: models.AgentAnalyst,
		TargetAgentType: models.AgentArchitect,
		HandoffType:     "requirements",
		Content:         json.RawMessage(`{"requirements":[]}`),
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	problem := decode[map[string]any](t, resp)
	assert.Equal(t, "handoff_validation_failed", problem["type"])
}

func TestHandoffUnknownTypeProblem(t *testing.T) {
	api := newTestAPI(t)

	project := api.createProject(t, "checkout rewrite")

	resp := api.do(t, http.MethodPost, "/handoffs", HandoffRequest{
		ProjectID:       project.ID,
		SourceAgentType: models.AgentAnalyst,
		TargetAgentType: models.AgentArchitect,
		HandoffType:     "vibes",
		Content:         json.RawMessage(`{}`),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkflowEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/workflows/delivery", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	def := decode[*models.WorkflowDefinition](t, resp)
	assert.Len(t, def.Steps, 5)

	listResp := api.do(t, http.MethodGet, "/workflows/", nil)
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	defs := decode[[]*models.WorkflowDefinition](t, listResp)
	assert.Len(t, defs, 1)

	createResp := api.do(t, http.MethodPost, "/workflows/", &models.WorkflowDefinition{
		ID:   "triage",
		Name: "Bug triage",
		Steps: []models.WorkflowStep{
			{ID: "analyze", Name: "Analyze", AgentType: models.AgentAnalyst, Instructions: "triage", Produces: "requirements"},
		},
	})
	require.Equal(t, http.StatusCreated, createResp.StatusCode)
}

func (a *testAPI) waitForRun(t *testing.T, executionID string, want models.ExecutionStatus) {
	t.Helper()

	deadline := time.After(5 * time.Second)

	for {
		state, err := a.store.ExecutionByID(context.Background(), executionID)
		require.NoError(t, err)

		if state.Status == want {
			return
		}

		select {
		case <-deadline:
			t.Fatalf("run %s stuck in %s, want %s", executionID, state.Status, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (a *testAPI) waitForApproval(t *testing.T, projectID string) *models.ApprovalRequest {
	t.Helper()

	deadline := time.After(5 * time.Second)

	for {
		requests, err := a.store.PendingApprovalsByProject(context.Background(), projectID)
		require.NoError(t, err)

		if len(requests) > 0 {
			return requests[0]
		}

		select {
		case <-deadline:
			t.Fatal("no approval request appeared")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
