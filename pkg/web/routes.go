package web

import (
	"github.com/gofiber/fiber/v3"
)

// Register mounts every API route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	p := app.Group("/projects")
	p.Post("/", h.CreateProject)
	p.Get("/", h.GetProjects)
	p.Get("/:id", h.GetProject)
	p.Get("/:id/status", h.GetProjectStatus)
	p.Get("/:id/history", h.GetProjectHistory)
	p.Post("/:id/tasks", h.CreateTask)
	p.Post("/:id/runs", h.RunWorkflow)
	p.Get("/:id/approvals", h.GetPendingApprovals)
	p.Get("/:id/budgets/:agentType", h.GetBudget)
	p.Put("/:id/budgets/:agentType", h.SetBudget)
	p.Get("/:id/counters/:agentType", h.GetCounter)
	p.Put("/:id/counters/:agentType", h.SetCounter)
	p.Put("/:id/approval-mode/:agentType", h.SetApprovalMode)

	r := app.Group("/runs")
	r.Get("/:id", h.GetRun)
	r.Post("/:id/resume", h.ResumeRun)

	w := app.Group("/workflows")
	w.Post("/", h.CreateWorkflow)
	w.Get("/", h.GetWorkflows)
	w.Get("/:id", h.GetWorkflow)

	a := app.Group("/approvals")
	a.Post("/:id/approve", h.ApproveRequest)
	a.Post("/:id/reject", h.RejectRequest)

	s := app.Group("/emergency-stops")
	s.Post("/", h.TriggerEmergencyStop)
	s.Post("/:id/clear", h.ClearEmergencyStop)

	app.Post("/handoffs", h.CreateHandoff)
}
