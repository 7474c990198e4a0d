package web

import (
	"log/slog"

	"github.com/cadenzahq/cadenza/pkg/coordinator"
	"github.com/cadenzahq/cadenza/pkg/governor"
	"github.com/cadenzahq/cadenza/pkg/handoff"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/orchestrator"
	"github.com/cadenzahq/cadenza/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	core        *orchestrator.Core
	coordinator *coordinator.Coordinator
	governor    *governor.Governor
	handoffs    *handoff.Manager
	workflows   *workflow.Repository
	tracker     *orchestrator.StatusTracker
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	core *orchestrator.Core,
	coord *coordinator.Coordinator,
	gov *governor.Governor,
	handoffs *handoff.Manager,
	workflows *workflow.Repository,
	tracker *orchestrator.StatusTracker,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		core:        core,
		coordinator: coord,
		governor:    gov,
		handoffs:    handoffs,
		workflows:   workflows,
		tracker:     tracker,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "web"),
	}
}

func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if err := c.Bind().JSON(req); err != nil {
		return err
	}

	return h.validator.Struct(req)
}

func (h *APIHandlers) CreateProject(c fiber.Ctx) error {
	var req CreateProjectRequest

	if err := h.bind(c, &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	project, err := h.core.CreateProject(c.Context(), req.Name, req.Metadata)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(project)
}

func (h *APIHandlers) GetProjects(c fiber.Ctx) error {
	projects, err := h.core.Projects(c.Context())
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(projects)
}

func (h *APIHandlers) GetProject(c fiber.Ctx) error {
	project, err := h.core.Project(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(project)
}

func (h *APIHandlers) GetProjectStatus(c fiber.Ctx) error {
	report, err := h.core.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) GetProjectHistory(c fiber.Ctx) error {
	return c.JSON(h.tracker.History(c.Params("id")))
}

func (h *APIHandlers) CreateTask(c fiber.Ctx) error {
	var req CreateTaskRequest

	if err := h.bind(c, &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	task, err := h.coordinator.CreateTask(c.Context(), c.Params("id"), req.AgentType, req.Instructions, req.EstimatedCost)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest

	if err := h.bind(c, &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	state, err := h.core.RunWorkflowAsync(c.Context(), c.Params("id"), req.WorkflowID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(state)
}

func (h *APIHandlers) ResumeRun(c fiber.Ctx) error {
	state, err := h.core.ResumeWorkflowAsync(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(state)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	state, err := h.core.Execution(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(state)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var def models.WorkflowDefinition

	if err := c.Bind().JSON(&def); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.workflows.Save(c.Context(), &def); err != nil {
		return badRequest(c, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(def)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	defs, err := h.workflows.All(c.Context())
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(defs)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	def, err := h.workflows.ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) resolveApproval(c fiber.Ctx, approved bool) error {
	var req ResolveApprovalRequest

	if err := h.bind(c, &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	resolved, err := h.governor.ResolveApproval(c.Context(), c.Params("id"), approved, req.ResolvedBy, req.Comment)
	if err != nil {
		return handleDomainError(c, err)
	}

	request, err := h.governor.Approval(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(ResolveApprovalResponse{Request: request, Resolved: resolved})
}

func (h *APIHandlers) ApproveRequest(c fiber.Ctx) error {
	return h.resolveApproval(c, true)
}

func (h *APIHandlers) RejectRequest(c fiber.Ctx) error {
	return h.resolveApproval(c, false)
}

func (h *APIHandlers) GetPendingApprovals(c fiber.Ctx) error {
	requests, err := h.governor.PendingByProject(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(requests)
}

func (h *APIHandlers) GetBudget(c fiber.Ctx) error {
	budget, err := h.governor.Budget(c.Context(), c.Params("id"), models.AgentType(c.Params("agentType")))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(budget)
}

func (h *APIHandlers) SetBudget(c fiber.Ctx) error {
	var req SetBudgetRequest

	if err := h.bind(c, &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	budget, err := h.governor.SetBudgetLimit(c.Context(), c.Params("id"), models.AgentType(c.Params("agentType")), req.Limit)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(budget)
}

func (h *APIHandlers) GetCounter(c fiber.Ctx) error {
	counter, err := h.governor.Counter(c.Context(), c.Params("id"), models.AgentType(c.Params("agentType")))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(counter)
}

func (h *APIHandlers) SetCounter(c fiber.Ctx) error {
	var req SetCounterRequest

	if err := h.bind(c, &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	counter, err := h.governor.ResetCounter(c.Context(), c.Params("id"), models.AgentType(c.Params("agentType")), req.Limit)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(counter)
}

func (h *APIHandlers) SetApprovalMode(c fiber.Ctx) error {
	var req SetApprovalModeRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	h.governor.SetApprovalMode(c.Params("id"), models.AgentType(c.Params("agentType")), req.Enabled)

	return c.JSON(fiber.Map{"enabled": req.Enabled})
}

func (h *APIHandlers) TriggerEmergencyStop(c fiber.Ctx) error {
	var req TriggerStopRequest

	if err := h.bind(c, &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	stop, canceled, err := h.governor.TriggerEmergencyStop(c.Context(), req.ProjectID, req.AgentType, req.Reason, req.TriggeredBy)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TriggerStopResponse{Stop: stop, TasksCanceled: canceled})
}

func (h *APIHandlers) ClearEmergencyStop(c fiber.Ctx) error {
	var req ClearStopRequest

	if err := h.bind(c, &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	stop, err := h.governor.ClearEmergencyStop(c.Context(), c.Params("id"), req.ClearedBy)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(stop)
}

func (h *APIHandlers) CreateHandoff(c fiber.Ctx) error {
	var req HandoffRequest

	if err := h.bind(c, &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	artifact, err := h.handoffs.Apply(c.Context(), &models.HandoffPayload{
		ProjectID:       req.ProjectID,
		SourceAgentType: req.SourceAgentType,
		TargetAgentType: req.TargetAgentType,
		HandoffType:     req.HandoffType,
		Content:         req.Content,
	})
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(artifact)
}
