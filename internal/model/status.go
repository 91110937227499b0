package model

import "fmt"

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true, // no resolvable source
	},
	StatusRunning: {
		StatusSucceeded: true,
		StatusSkipped:   true,
		StatusFailed:    true,
	},
	StatusSucceeded: {},
	StatusSkipped:   {},
	StatusFailed:    {},
}

func IsTerminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionItemStatus(rec *ItemRecord, toStatus string, reason string) error {
	from := rec.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid item status transition: %q -> %q (index=%d item_id=%s)", from, toStatus, rec.Index, rec.ItemID)
	}
	rec.Status = toStatus
	rec.Reason = reason
	return nil
}
