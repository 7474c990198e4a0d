package models

import (
	"encoding/json"
	"time"
)

// ContextArtifact is an immutable record of output produced by a task. An
// artifact is never updated in place; newer output supersedes it under a new
// artifact id.
type ContextArtifact struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"project_id"        validate:"required"`
	SourceAgentType AgentType       `json:"source_agent_type" validate:"required"`
	ArtifactType    string          `json:"artifact_type"     validate:"required"`
	Content         json.RawMessage `json:"content"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HandoffPayload is a structured data transfer from one phase's output to the
// next phase's input. Content is validated against the schema registered for
// the handoff type before the payload is accepted.
type HandoffPayload struct {
	ProjectID       string          `json:"project_id"`
	SourceAgentType AgentType       `json:"source_agent_type"`
	TargetAgentType AgentType       `json:"target_agent_type"`
	HandoffType     string          `json:"handoff_type"`
	Content         json.RawMessage `json:"content"`
}
