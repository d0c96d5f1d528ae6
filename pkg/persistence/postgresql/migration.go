package postgresql

// migrations returns the versioned schema for workflow storage.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_definitions (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				version VARCHAR(64) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				steps JSONB NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				CONSTRAINT workflow_definitions_name_version_key UNIQUE (name, version)
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_definitions_name_enabled
				ON workflow_definitions (name) WHERE enabled;

			CREATE TABLE IF NOT EXISTS workflow_executions (
				id UUID PRIMARY KEY,
				workflow_definition_id UUID NOT NULL REFERENCES workflow_definitions (id),
				workflow_name VARCHAR(255) NOT NULL,
				customer_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				context JSONB NOT NULL DEFAULT '{}'::jsonb,
				current_step VARCHAR(255) NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_executions_customer_workflow
				ON workflow_executions (customer_id, workflow_name, status);

			CREATE TABLE IF NOT EXISTS workflow_step_executions (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions (id),
				step_name VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_step_executions_execution
				ON workflow_step_executions (execution_id, started_at);
		`,
		2: `
			ALTER TABLE workflow_executions
				ADD COLUMN IF NOT EXISTS current_stage INTEGER NOT NULL DEFAULT 0;
		`,
	}
}
