package domain

import "errors"

// Common domain errors
var (
	ErrNotFound          = errors.New("entity not found")
	ErrInvalidAction     = errors.New("invalid action")
	ErrUnknownActionKind = errors.New("unknown action kind")
	ErrProposalResolved  = errors.New("proposal already resolved")
	ErrNotEligible       = errors.New("member not eligible")
	ErrCommunityMismatch = errors.New("community mismatch")
	ErrPolicyRejected    = errors.New("policy rejected at admission")
)
