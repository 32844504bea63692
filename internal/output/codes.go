// Package output provides JSON and styled terminal output plus the
// structured error taxonomy shared by every layer of the client.
package output

// Process exit codes.
const (
	ExitOK        = 0   // Success
	ExitUsage     = 1   // Invalid arguments or flags
	ExitNotFound  = 2   // Resource not found
	ExitAuth      = 3   // Missing or rejected token
	ExitForbidden = 4   // Access denied for this tenant
	ExitRateLimit = 5   // Rate limited (429)
	ExitNetwork   = 6   // Connection/DNS/timeout error
	ExitAPI       = 7   // Server returned error
	ExitCanceled  = 130 // Interrupted or superseded
)

// Error codes for the JSON envelope.
const (
	CodeUsage     = "usage"
	CodeNotFound  = "not_found"
	CodeAuth      = "auth_required"
	CodeForbidden = "forbidden"
	CodeRateLimit = "rate_limit"
	CodeNetwork   = "network"
	CodeAPI       = "api_error"
	CodeCanceled  = "canceled"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth:
		return ExitAuth
	case CodeForbidden:
		return ExitForbidden
	case CodeRateLimit:
		return ExitRateLimit
	case CodeNetwork:
		return ExitNetwork
	case CodeAPI:
		return ExitAPI
	case CodeCanceled:
		return ExitCanceled
	default:
		return ExitAPI
	}
}
