package models

import "time"

// WorkflowStep is the single canonical step shape. Every producer of step
// definitions (the declarative loader, programmatic templates) constructs this
// type; the engine consumes workflows as an ordered arena of these steps.
type WorkflowStep struct {
	ID           string    `json:"id"           validate:"required,lowercase"`
	Name         string    `json:"name"         validate:"required"`
	AgentType    AgentType `json:"agent_type"   validate:"required"`
	Instructions string    `json:"instructions" validate:"required"`
	// Produces is the artifact key this step's output is stored under.
	Produces string `json:"produces" validate:"required"`
	// Requires lists artifact keys (or literal artifact ids) that must be
	// resolvable before the step runs.
	Requires []string `json:"requires,omitempty"`
	// Condition is an optional predicate; when it evaluates false the step is
	// completed with the skipped flag and no agent is invoked.
	Condition string `json:"condition,omitempty"`
	// EstimatedCost is the budget units one attempt of this step consumes,
	// checked against the scope's BudgetControl at the gate.
	EstimatedCost int64 `json:"estimated_cost,omitempty" validate:"gte=0"`
	HITLRequired  bool  `json:"hitl_required"`
}

// WorkflowDefinition is a declarative, ordered step sequence. Definitions are
// loaded once per id and treated as immutable afterwards.
type WorkflowDefinition struct {
	ID          string         `json:"id"    validate:"required"`
	Name        string         `json:"name"  validate:"required,min=3"`
	Description string         `json:"description"`
	Steps       []WorkflowStep `json:"steps" validate:"required,min=1,dive"`
	CreatedAt   time.Time      `json:"created_at"`
}

// StepByIndex returns the step at the given position.
func (w *WorkflowDefinition) StepByIndex(i int) (WorkflowStep, bool) {
	if i < 0 || i >= len(w.Steps) {
		return WorkflowStep{}, false
	}

	return w.Steps[i], true
}
