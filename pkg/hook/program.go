package hook

import (
	"context"
	"fmt"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/polisai/agora/pkg/domain"
)

const (
	// modulePackage is the mandatory package of every hook module.
	modulePackage = "data.agora.hook"
	// resultQuery is the decision path evaluated for every stage.
	resultQuery = "data.agora.hook.result"
)

// Program holds the prepared queries for one revision of a policy's hook
// set. Programs are immutable once built.
type Program struct {
	policyID string
	revision string
	queries  map[domain.HookStage]*rego.PreparedEvalQuery
}

// Run evaluates one stage against the input document. An undefined result
// (the rule body did not fire) yields an empty Result; the engine decides
// whether that is acceptable for the stage.
func (p *Program) Run(ctx context.Context, stage domain.HookStage, in Input) (*Result, error) {
	prepared, ok := p.queries[stage]
	if !ok {
		return nil, fmt.Errorf("no prepared %s hook", stage)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(in.document()))
	if err != nil {
		return nil, fmt.Errorf("eval %s hook: %w", stage, err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &Result{}, nil
	}

	payload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s hook: unexpected result type %T", stage, results[0].Expressions[0].Value)
	}

	res, err := parseResult(payload)
	if err != nil {
		return nil, fmt.Errorf("%s hook: %w", stage, err)
	}
	return res, nil
}

// Compiler parses and prepares hook modules, caching one program per policy.
// Cache entries are keyed by the hook set's revision hash, so editing any
// hook source recompiles on the next use without explicit invalidation.
type Compiler struct {
	mu       sync.RWMutex
	programs map[string]*Program
}

// NewCompiler creates an empty compiler.
func NewCompiler() *Compiler {
	return &Compiler{programs: make(map[string]*Program)}
}

// RunnerFor returns the prepared program for a policy, compiling it if the
// cached revision is stale or absent.
func (c *Compiler) RunnerFor(ctx context.Context, pol *domain.Policy) (Runner, error) {
	revision := pol.Hooks.Revision()

	c.mu.RLock()
	prog, ok := c.programs[pol.ID]
	c.mu.RUnlock()
	if ok && prog.revision == revision {
		return prog, nil
	}

	prog, err := compileProgram(ctx, pol.ID, pol.Hooks, revision)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have compiled the same revision; respect first entry.
	if existing, ok := c.programs[pol.ID]; ok && existing.revision == revision {
		return existing, nil
	}

	c.programs[pol.ID] = prog
	return prog, nil
}

// Admit compiles a hook set without caching it. Policy creation and change
// effects run this before anything is persisted, so broken hooks never enter
// a policy pool.
func (c *Compiler) Admit(ctx context.Context, hooks domain.HookSet) error {
	_, err := compileProgram(ctx, "admission", hooks, hooks.Revision())
	return err
}

// Invalidate drops the cached program of a removed or replaced policy.
func (c *Compiler) Invalidate(policyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.programs, policyID)
}

func compileProgram(ctx context.Context, policyID string, hooks domain.HookSet, revision string) (*Program, error) {
	queries := make(map[domain.HookStage]*rego.PreparedEvalQuery, 6)

	for _, stage := range domain.HookStages() {
		source := hooks.Source(stage)
		if strings.TrimSpace(source) == "" {
			return nil, fmt.Errorf("%w: policy %s has no %s hook", domain.ErrPolicyRejected, policyID, stage)
		}

		filename := fmt.Sprintf("%s/%s.rego", policyID, stage)
		module, err := ast.ParseModuleWithOpts(filename, source, ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s hook of %s: %w", domain.ErrPolicyRejected, stage, policyID, err)
		}
		if got := module.Package.Path.String(); got != modulePackage {
			return nil, fmt.Errorf("%w: %s hook of %s declares package %q, must be agora.hook",
				domain.ErrPolicyRejected, stage, policyID, got)
		}

		r := rego.New(
			rego.Query(resultQuery),
			rego.ParsedModule(module),
		)
		prepared, err := r.PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: compile %s hook of %s: %w", domain.ErrPolicyRejected, stage, policyID, err)
		}
		queries[stage] = &prepared
	}

	return &Program{policyID: policyID, revision: revision, queries: queries}, nil
}
