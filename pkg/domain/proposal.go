package domain

import (
	"fmt"
	"time"
)

// ProposalStatus is the lifecycle state of a proposal. Transitions are
// monotonic: proposed may become passed or failed, and terminal states never
// change again.
type ProposalStatus string

const (
	StatusProposed ProposalStatus = "proposed"
	StatusPassed   ProposalStatus = "passed"
	StatusFailed   ProposalStatus = "failed"
)

// Proposal tracks one action through governance. Exactly one proposal exists
// per action, keyed by the action ID.
type Proposal struct {
	ActionID   string
	Community  string
	Author     string
	Status     ProposalStatus
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// NewProposal opens a proposal for an action in the proposed state.
func NewProposal(a *Action, now time.Time) *Proposal {
	return &Proposal{
		ActionID:  a.ID,
		Community: a.Community,
		Author:    a.Initiator,
		Status:    StatusProposed,
		CreatedAt: now,
	}
}

// Terminal reports whether the proposal has reached passed or failed.
func (p *Proposal) Terminal() bool {
	return p.Status == StatusPassed || p.Status == StatusFailed
}

// Resolve moves the proposal to a terminal status. Resolving an already
// terminal proposal returns ErrProposalResolved; resolving back to proposed
// is never legal.
func (p *Proposal) Resolve(status ProposalStatus, at time.Time) error {
	if status != StatusPassed && status != StatusFailed {
		return fmt.Errorf("%w: cannot resolve to %q", ErrInvalidAction, status)
	}
	if p.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrProposalResolved, p.ActionID, p.Status)
	}
	p.Status = status
	p.ResolvedAt = at
	return nil
}

// Elapsed returns how long the proposal has been open, or the time it stayed
// open if it is already resolved. Hooks receive this for time-based checks.
func (p *Proposal) Elapsed(now time.Time) time.Duration {
	if p.Terminal() && !p.ResolvedAt.IsZero() {
		return p.ResolvedAt.Sub(p.CreatedAt)
	}
	return now.Sub(p.CreatedAt)
}
