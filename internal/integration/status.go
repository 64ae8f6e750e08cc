// Package integration implements the lifecycle of flag-gated connectors to
// external services: connect with bounded exponential retry, gated execution,
// forced disconnect and health reporting.
package integration

// Status is the lifecycle state of an Integration.
type Status string

const (
	// StatusDisabled is never stored. It is reported whenever the gating flag is off.
	StatusDisabled     Status = "DISABLED"
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusError        Status = "ERROR"
	StatusRateLimited  Status = "RATE_LIMITED"
)

var allStatuses = []Status{
	StatusDisabled,
	StatusDisconnected,
	StatusConnecting,
	StatusConnected,
	StatusError,
	StatusRateLimited,
}
