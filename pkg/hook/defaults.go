package hook

import (
	"strings"

	"github.com/polisai/agora/pkg/domain"
)

// Default hook sources. A policy author who omits a hook gets these; they
// reproduce the classic baseline of "claim everything, pass immediately,
// execute on success, do nothing on failure".
const (
	DefaultFilter = `package agora.hook

result := {"match": true}
`

	DefaultInitialize = `package agora.hook

result := {}
`

	DefaultCheck = `package agora.hook

result := {"verdict": "passed"}
`

	DefaultNotify = `package agora.hook

result := {}
`

	DefaultSuccess = `package agora.hook

result := {"execute": true}
`

	DefaultFail = `package agora.hook

result := {}
`
)

// DefaultHooks returns a hook set consisting entirely of defaults.
func DefaultHooks() domain.HookSet {
	return Complete(domain.HookSet{})
}

// Complete fills every empty stage of a hook set with its default source.
// Policy admission runs on completed sets, so stored policies always carry
// six compilable modules.
func Complete(h domain.HookSet) domain.HookSet {
	if strings.TrimSpace(h.Filter) == "" {
		h.Filter = DefaultFilter
	}
	if strings.TrimSpace(h.Initialize) == "" {
		h.Initialize = DefaultInitialize
	}
	if strings.TrimSpace(h.Check) == "" {
		h.Check = DefaultCheck
	}
	if strings.TrimSpace(h.Notify) == "" {
		h.Notify = DefaultNotify
	}
	if strings.TrimSpace(h.Success) == "" {
		h.Success = DefaultSuccess
	}
	if strings.TrimSpace(h.Fail) == "" {
		h.Fail = DefaultFail
	}
	return h
}
