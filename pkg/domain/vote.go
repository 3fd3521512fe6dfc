package domain

import "time"

// BooleanVote is a yes/no vote on a proposal. One vote per member per
// proposal; casting again replaces the previous vote.
type BooleanVote struct {
	ActionID string
	Member   string
	Value    bool
	CastAt   time.Time
}

// NumberVote is a numeric vote on a proposal. For election bundles the value
// is the index of the chosen member action.
type NumberVote struct {
	ActionID string
	Member   string
	Value    int
	CastAt   time.Time
}

// APICallRecord is the audit trail entry for one outbound platform call.
// Calls are recorded before they are attempted, mirroring the platform
// dispatcher's log-then-call order.
type APICallRecord struct {
	Community string
	Call      string
	Values    map[string]any
	At        time.Time
}
