package request

// ExecuteWorkflow is the body of both the synchronous and queued run endpoints
type ExecuteWorkflow struct {
	Input map[string]any `json:"input"`
}
