package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// HookStage names one of the five lifecycle hooks plus the fail hook. The
// engine runs them in the fixed order filter, initialize, check, notify,
// then exactly one of success or fail.
type HookStage string

const (
	StageFilter     HookStage = "filter"
	StageInitialize HookStage = "initialize"
	StageCheck      HookStage = "check"
	StageNotify     HookStage = "notify"
	StageSuccess    HookStage = "success"
	StageFail       HookStage = "fail"
)

// HookStages returns all stages in lifecycle order.
func HookStages() []HookStage {
	return []HookStage{StageFilter, StageInitialize, StageCheck, StageNotify, StageSuccess, StageFail}
}

// HookSet holds the six authored hook sources of a policy.
type HookSet struct {
	Filter     string
	Initialize string
	Check      string
	Notify     string
	Success    string
	Fail       string
}

// Source returns the source for a stage, or the empty string for an unknown
// stage.
func (h HookSet) Source(stage HookStage) string {
	switch stage {
	case StageFilter:
		return h.Filter
	case StageInitialize:
		return h.Initialize
	case StageCheck:
		return h.Check
	case StageNotify:
		return h.Notify
	case StageSuccess:
		return h.Success
	case StageFail:
		return h.Fail
	default:
		return ""
	}
}

// Revision hashes all six sources. Compiled hook programs are cached per
// revision, so editing any hook invalidates the cache naturally.
func (h HookSet) Revision() string {
	sum := sha256.New()
	for _, stage := range HookStages() {
		sum.Write([]byte(h.Source(stage)))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// Verdict is a check hook's judgement of an action.
type Verdict string

const (
	// VerdictPassed approves the action; its effect executes and the
	// proposal resolves passed.
	VerdictPassed Verdict = "passed"
	// VerdictFailed rejects the action; the proposal resolves failed.
	VerdictFailed Verdict = "failed"
	// VerdictProposed keeps the proposal open for another evaluation pass.
	VerdictProposed Verdict = "proposed"
)

// Terminal reports whether the verdict ends the evaluation.
func (v Verdict) Terminal() bool {
	return v == VerdictPassed || v == VerdictFailed
}

// ParseVerdict validates a raw verdict string coming out of a hook.
func ParseVerdict(s string) (Verdict, bool) {
	switch Verdict(s) {
	case VerdictPassed, VerdictFailed, VerdictProposed:
		return Verdict(s), true
	default:
		return "", false
	}
}

// Policy is a community-authored governor for one category of actions. Live
// policies in a community's pool evaluate every non-bundled action of their
// category; dormant (IsBundled) policies wait inside a policy bundle until
// activation.
type Policy struct {
	ID          string
	Community   string
	Category    PolicyCategory
	Name        string
	Description string
	Hooks       HookSet

	// IsBundled keeps the policy dormant until its bundle activates it.
	IsBundled bool

	// HasNotified mirrors whether any action has ever reached this policy's
	// notify stage. The per-pair evaluation record stays authoritative.
	HasNotified bool

	Data      *DataStore
	CreatedAt time.Time
}

// NewPolicyFromSpec builds a policy from an authored spec.
func NewPolicyFromSpec(id, community string, category PolicyCategory, spec PolicySpec, now time.Time) *Policy {
	return &Policy{
		ID:          id,
		Community:   community,
		Category:    category,
		Name:        spec.Name,
		Description: spec.Description,
		Hooks:       spec.Hooks,
		IsBundled:   spec.IsBundled,
		Data:        NewDataStore(),
		CreatedAt:   now,
	}
}

// EvalState tracks how far one (action, policy) pair has progressed.
type EvalState string

const (
	// EvalNotApplicable records a filter miss; the pair is never revisited.
	EvalNotApplicable EvalState = "not_applicable"
	// EvalApplicable records a filter hit before initialize has run.
	EvalApplicable EvalState = "applicable"
	// EvalInitialized means initialize ran; check has not yet returned a
	// proposed verdict.
	EvalInitialized EvalState = "initialized"
	// EvalPending means check has deferred at least once; the pair is
	// re-checked on every pass until a terminal verdict.
	EvalPending EvalState = "pending"
	// EvalResolved means this policy produced the pair's terminal verdict,
	// or another policy resolved the proposal first.
	EvalResolved EvalState = "resolved"
	// EvalQuarantined means repeated hook faults sidelined the policy for
	// this action.
	EvalQuarantined EvalState = "quarantined"
)

// Evaluation is the durable record of one (action, policy) pair.
type Evaluation struct {
	ActionID string
	PolicyID string
	State    EvalState

	// Notified is the authoritative at-most-once marker for the notify hook.
	Notified bool

	// Failures counts consecutive hook faults; it resets on any successful
	// hook run and triggers quarantine at the engine's threshold.
	Failures int
}

// Active reports whether the pair still takes part in evaluation passes.
func (e *Evaluation) Active() bool {
	switch e.State {
	case EvalApplicable, EvalInitialized, EvalPending:
		return true
	default:
		return false
	}
}
