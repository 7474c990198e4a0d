package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE projects (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				current_phase VARCHAR(50) NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE tasks (
				id VARCHAR(255) PRIMARY KEY,
				project_id VARCHAR(255) NOT NULL,
				agent_type VARCHAR(50) NOT NULL,
				instructions TEXT NOT NULL,
				status VARCHAR(50) NOT NULL,
				artifact_type VARCHAR(255),
				estimated_cost BIGINT NOT NULL DEFAULT 0,
				failure_reason VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_tasks_project_id ON tasks(project_id);
			CREATE INDEX idx_tasks_status ON tasks(status);

			CREATE TABLE artifacts (
				id VARCHAR(255) PRIMARY KEY,
				project_id VARCHAR(255) NOT NULL,
				source_agent_type VARCHAR(50) NOT NULL,
				artifact_type VARCHAR(255) NOT NULL,
				content JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_artifacts_project_id ON artifacts(project_id);

			CREATE TABLE approval_requests (
				id VARCHAR(255) PRIMARY KEY,
				task_id VARCHAR(255) NOT NULL,
				project_id VARCHAR(255) NOT NULL,
				agent_type VARCHAR(50) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				comment TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resolved_by VARCHAR(255),
				resolved_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_approval_requests_project_id ON approval_requests(project_id);
			CREATE INDEX idx_approval_requests_status ON approval_requests(status);

			CREATE TABLE budget_controls (
				project_id VARCHAR(255) NOT NULL,
				agent_type VARCHAR(50) NOT NULL,
				limit_amount BIGINT NOT NULL,
				used_amount BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (project_id, agent_type),
				CHECK (used_amount >= 0 AND used_amount <= limit_amount)
			);

			CREATE TABLE auto_approve_counters (
				project_id VARCHAR(255) NOT NULL,
				agent_type VARCHAR(50) NOT NULL DEFAULT '',
				limit_count BIGINT NOT NULL,
				remaining BIGINT NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (project_id, agent_type),
				CHECK (remaining >= 0 AND remaining <= limit_count)
			);

			CREATE TABLE emergency_stops (
				id VARCHAR(255) PRIMARY KEY,
				project_id VARCHAR(255),
				agent_type VARCHAR(50),
				reason TEXT NOT NULL,
				triggered_by VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				cleared_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_emergency_stops_active ON emergency_stops(active);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				project_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				current_step_index INT NOT NULL DEFAULT 0,
				steps JSONB NOT NULL,
				context JSONB NOT NULL,
				error TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_executions_project_id ON workflow_executions(project_id);

			CREATE TABLE workflow_definitions (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				steps JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
	}
}
