package auth

// Known OAuth scopes for the training-load API.
const (
	ScopeMetricsWrite = "metrics:write"
	ScopeMetricsRead  = "metrics:read"
)
