// Package output provides JSON/styled output formatting and error handling.
package output

// Exit codes.
const (
	ExitOK        = 0 // Success
	ExitUsage     = 1 // Invalid arguments or flags
	ExitNotFound  = 2 // Resource not found
	ExitAuth      = 3 // Not authenticated or session expired
	ExitForbidden = 4 // Access denied
	ExitNetwork   = 6 // Connection/DNS/timeout error
	ExitAPI       = 7 // Server returned error
)

// Error codes for JSON envelope.
const (
	CodeUsage     = "usage"
	CodeNotFound  = "not_found"
	CodeAuth      = "auth_required"
	CodeForbidden = "forbidden"
	CodeNetwork   = "network"
	CodeAPI       = "api_error"
)

// Kind is the classification tag the request pipeline attaches to a
// rejected call.
type Kind string

// Classification tags.
const (
	KindNone            Kind = ""
	KindNetworkError    Kind = "network_error"
	KindAuthAction401   Kind = "auth_action_401"
	KindDebounced401    Kind = "debounced_401"
	KindSessionCheck401 Kind = "session_check_401"
	KindGeneric401      Kind = "generic_401"
	KindAuthAction403   Kind = "auth_action_403"
	KindGeneric403      Kind = "generic_403"
	KindNotFound        Kind = "not_found"
	KindUnclassified    Kind = "unclassified"
	KindSessionExpired  Kind = "session_expired"
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
	case CodeNetwork:
		return ExitNetwork
	case CodeAPI:
		return ExitAPI
	default:
		return ExitAPI
	}
}
