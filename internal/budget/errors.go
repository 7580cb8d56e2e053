package budget

import "fmt"

// Kinds reported by ErrExceeded.
const (
	KindBudget            = "budget"
	KindIterations        = "iterations"
	KindUnknownTools      = "unknown_tools"
	KindCloserSuggestions = "closer_suggestions"
	KindTime              = "time"
)

// ErrExceeded is returned when usage surpasses configured limits.
type ErrExceeded struct {
	Kind  string
	Usage string
	Limit string
}

func (e ErrExceeded) Error() string {
	if e.Limit != "" {
		return fmt.Sprintf("budget %s exceeded: usage=%s limit=%s", e.Kind, e.Usage, e.Limit)
	}
	return fmt.Sprintf("budget %s exceeded: usage=%s", e.Kind, e.Usage)
}
