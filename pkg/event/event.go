// Package event provides the in-process pub/sub bus that decouples the
// governance engine from its observers. The scheduler, notification surfaces,
// and platform transports subscribe to typed events instead of polling
// engine state.
package event

import (
	"time"

	"github.com/polisai/agora/pkg/domain"
)

// Type tags an event stream.
type Type string

const (
	// TypeActionProposed fires when an action enters governance, whatever
	// the gate decided.
	TypeActionProposed Type = "action.proposed"
	// TypeProposalPassed fires when a proposal resolves passed.
	TypeProposalPassed Type = "proposal.passed"
	// TypeProposalFailed fires when a proposal resolves failed.
	TypeProposalFailed Type = "proposal.failed"
	// TypeVoteCast fires on every accepted vote; the scheduler re-evaluates
	// the voted proposal promptly.
	TypeVoteCast Type = "vote.cast"
	// TypePolicyNotices carries messages emitted by a notify hook.
	TypePolicyNotices Type = "policy.notices"
	// TypePolicyQuarantined fires when repeated hook faults sideline a
	// policy for one action.
	TypePolicyQuarantined Type = "policy.quarantined"
	// TypePlatformCallFailed fires when an outbound platform call fails
	// after retries.
	TypePlatformCallFailed Type = "platform.call_failed"
)

// Event is a timestamped payload on one stream.
type Event struct {
	Timestamp time.Time
	Data      any
	Type      Type
}

// New builds an event stamped with the current time.
func New(eventType Type, data any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// ProposalData describes an action entering or leaving governance.
type ProposalData struct {
	ActionID  string
	Community string
	Kind      domain.ActionKind
	Status    domain.ProposalStatus
}

// VoteData describes an accepted vote.
type VoteData struct {
	ActionID  string
	Community string
	Member    string
}

// NoticeData carries notify-hook messages for the community.
type NoticeData struct {
	ActionID  string
	PolicyID  string
	Community string
	Messages  []string
}

// QuarantineData describes a policy sidelined for one action.
type QuarantineData struct {
	ActionID string
	PolicyID string
	Failures int
}

// CallFailureData describes a platform call that failed after retries.
type CallFailureData struct {
	ActionID  string
	Community string
	Call      string
	Reason    string
}
