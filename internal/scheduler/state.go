package scheduler

// State is the stage of a document pipeline.
type State int

const (
	// StateIdle means nothing is pending for the document.
	StateIdle State = iota
	// StateFetchingSettings means settings are being resolved.
	StateFetchingSettings
	// StatePendingDebounce means the debounce timer is running.
	StatePendingDebounce
	// StateValidating means the latest version is being validated.
	StateValidating
	// StateIgnored is terminal: the URI scheme is never checked.
	StateIgnored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingSettings:
		return "fetching-settings"
	case StatePendingDebounce:
		return "pending-debounce"
	case StateValidating:
		return "validating"
	case StateIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// IgnoredSchemes are URI schemes whose documents are never validated.
var IgnoredSchemes = []string{"git", "output", "debug", "vscode"}
