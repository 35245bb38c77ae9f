package order

import "fmt"

// Status is an order lifecycle state.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusUnpaid     Status = "UNPAID"
	StatusPaid       Status = "PAID"
	StatusFulfilling Status = "FULFILLING"
	StatusShipped    Status = "SHIPPED"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunding  Status = "REFUNDING"
	StatusRefunded   Status = "REFUNDED"
)

// transitions is the validated edge table. COMPLETED, CANCELLED, and REFUNDED
// are terminal: no outbound edges.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusUnpaid, StatusCancelled},
	StatusUnpaid:     {StatusPaid, StatusCancelled},
	StatusPaid:       {StatusFulfilling, StatusRefunding},
	StatusFulfilling: {StatusShipped, StatusRefunding},
	StatusShipped:    {StatusCompleted, StatusRefunding},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusRefunding:  {StatusRefunded},
	StatusRefunded:   {},
}

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the edge s -> next is in the table.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedNext returns the targets reachable from s without force. The result
// is a copy; callers may not mutate the table through it.
func AllowedNext(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// InvalidTransitionError reports a status edge outside the table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// UnknownStatusError reports a status value not in the table at all.
type UnknownStatusError struct {
	Status Status
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown order status %q", e.Status)
}
