package csync

// State tracks where a sync invocation is in its pipeline. Conflict is
// terminal and reported with the newer remote version id so the caller can
// restart the whole pipeline; it is never auto-resolved here.
type State int

const (
	StateScanning State = iota
	StateDiffing
	StateApplying
	StateCommitting
	StateCommitted
	StateConflict
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateDiffing:
		return "diffing"
	case StateApplying:
		return "applying"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateConflict:
		return "conflict"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
