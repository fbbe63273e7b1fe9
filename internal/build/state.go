package build

import "fmt"

// Lifecycle state of one archive.
type State int

const (
	Pending  State = iota // Not started.
	Building              // Images are being ensured, built or saved.
	Archived              // The archive is at its final path.
	TimedOut              // The build exceeded its timeout.
	Failed                // The build failed.
)

// Returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Building:
		return "building"
	case Archived:
		return "archived"
	case TimedOut:
		return "timed-out"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reports whether the state is final.
func (s State) Done() bool {
	return s == Archived || s == TimedOut || s == Failed
}
