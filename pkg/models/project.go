package models

import "time"

// Phase is a named stage of a project's lifecycle. Each phase restricts which
// agent types may act; see the policy package for the allow-lists.
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhaseDesign    Phase = "design"
	PhaseBuild     Phase = "build"
	PhaseValidate  Phase = "validate"
	PhaseLaunch    Phase = "launch"
)

// Valid reports whether the phase is one of the known lifecycle stages.
func (p Phase) Valid() bool {
	switch p {
	case PhaseDiscovery, PhaseDesign, PhaseBuild, PhaseValidate, PhaseLaunch:
		return true
	default:
		return false
	}
}

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed" // Terminal
	ProjectStatusFailed    ProjectStatus = "failed"    // Terminal
)

// Project is the unit of isolation for orchestration: tasks, budgets,
// approvals and artifacts are all scoped to a project. Status and phase are
// mutated only by the orchestrator core and the execution engine.
type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"          validate:"required,min=3"`
	Status       ProjectStatus `json:"status"        validate:"required"`
	CurrentPhase Phase         `json:"current_phase" validate:"required"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Terminal reports whether the project can no longer change state.
func (p *Project) Terminal() bool {
	return p.Status == ProjectStatusCompleted || p.Status == ProjectStatusFailed
}
