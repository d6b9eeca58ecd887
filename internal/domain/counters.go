package domain

// CounterTotalRequests counts every accepted generation request.
const CounterTotalRequests = "total_api_requests"

// SuccessCounter returns the per-tool success counter key.
func SuccessCounter(tool ToolKind) string {
	return tool.CounterPrefix() + "_success_count"
}

// FailureCounter returns the per-tool failure counter key.
func FailureCounter(tool ToolKind) string {
	return tool.CounterPrefix() + "_failed_count"
}
