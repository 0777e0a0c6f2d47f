package channel

import "fmt"

// RangeError reports a channel id outside the configured channel count.
// It is raised as a panic value: a mismatch between channel setup and the
// caller is a programming error.
type RangeError struct {
	Op    string
	ID    ID
	Count int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: channel %d out of range, %d channels configured", e.Op, e.ID, e.Count)
}

// MustBeInRange panics with a *RangeError when id is not below count.
func MustBeInRange(op string, id ID, count int) {
	if int(id) >= count {
		panic(&RangeError{Op: op, ID: id, Count: count})
	}
}
