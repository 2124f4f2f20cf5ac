package loop

// CompletionStatus is written into session state exactly once, when a loop terminates.
type CompletionStatus string

const (
	StatusConfirmed       CompletionStatus = "confirmed"
	StatusComplete        CompletionStatus = "complete"
	StatusMaxLoopsReached CompletionStatus = "max_loops_reached"
)

// Succeeded reports whether the loop ended because its checker was satisfied.
func (s CompletionStatus) Succeeded() bool {
	return s == StatusConfirmed || s == StatusComplete
}

func (s CompletionStatus) valid() bool {
	switch s {
	case "", StatusConfirmed, StatusComplete, StatusMaxLoopsReached:
		return true
	default:
		return false
	}
}
