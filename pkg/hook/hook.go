// Package hook runs community-authored policy hooks inside an embedded OPA
// sandbox. Each policy carries six Rego modules (filter, initialize, check,
// notify, success, fail); every module declares package agora.hook and
// defines a rule named result whose object carries the hook's outputs back
// to the engine.
package hook

import (
	"context"
	"fmt"

	"github.com/polisai/agora/pkg/domain"
)

// Input is the read-only document a hook sees as input. The engine flattens
// domain state into JSON-shaped maps so hooks never touch live entities.
type Input struct {
	Action   map[string]any
	Policy   map[string]any
	Proposal map[string]any
	Votes    map[string]any

	// FirstEvaluation is true on the pass that runs initialize.
	FirstEvaluation bool
}

func (in Input) document() map[string]any {
	doc := map[string]any{
		"action":           in.Action,
		"policy":           in.Policy,
		"proposal":         in.Proposal,
		"votes":            in.Votes,
		"first_evaluation": in.FirstEvaluation,
	}
	for k, v := range doc {
		if v == nil && k != "first_evaluation" {
			doc[k] = map[string]any{}
		}
	}
	return doc
}

// Runner executes one stage of a policy's hook set.
type Runner interface {
	Run(ctx context.Context, stage domain.HookStage, in Input) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface, mainly for tests.
type RunnerFunc func(ctx context.Context, stage domain.HookStage, in Input) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, stage domain.HookStage, in Input) (*Result, error) {
	return f(ctx, stage, in)
}

// Error describes a fault raised while compiling or executing a policy hook.
// Hook faults never crash an evaluation pass; the engine counts them toward
// the policy's quarantine threshold.
type Error struct {
	PolicyID string
	Stage    domain.HookStage
	Err      error
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("hook %s: %v", e.PolicyID, e.Err)
	}
	return fmt.Sprintf("hook %s/%s: %v", e.PolicyID, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
