package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				current_node VARCHAR(255) NOT NULL DEFAULT '',
				inputs JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				result JSONB,
				error TEXT NOT NULL DEFAULT '',
				node_states JSONB NOT NULL DEFAULT '{}'
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_user_id ON executions(user_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_started_at ON executions(started_at);

			CREATE TABLE execution_logs (
				id BIGSERIAL PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				logged_at TIMESTAMP WITH TIME ZONE NOT NULL,
				level VARCHAR(16) NOT NULL,
				node_id VARCHAR(255) NOT NULL DEFAULT '',
				message TEXT NOT NULL
			);

			CREATE INDEX idx_execution_logs_execution_id ON execution_logs(execution_id, id);
			CREATE INDEX idx_execution_logs_level ON execution_logs(execution_id, level);
			CREATE INDEX idx_execution_logs_node_id ON execution_logs(execution_id, node_id);
		`,
	}
}
