package domain

import "fmt"

// Status is the lifecycle state of a fusion.
// Transitions are one-directional: pending -> processing -> {completed | failed}.
type Status string

const (
	StatusPending    Status = "pending"    // Record created, cost persisted, external work not started
	StatusProcessing Status = "processing" // External generation/mint in flight
	StatusCompleted  Status = "completed"  // Result asset minted and recorded (terminal)
	StatusFailed     Status = "failed"     // Unrecoverable failure, reason recorded (terminal)
)

// transitions is the closed transition table. Anything absent is illegal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s -> next is a legal transition.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus validates a raw string coming from storage or the wire.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown fusion status %q", raw)
	}
}
