package hook

import (
	"encoding/json"
	"fmt"

	"github.com/polisai/agora/pkg/domain"
)

// Result carries a hook's outputs. Every field is optional in the result
// object; absent fields leave engine state untouched.
type Result struct {
	// Match is the filter hook's claim on the action. A filter that returns
	// no match field does not claim the action.
	Match *bool

	// Verdict is the check hook's judgement; empty when the hook returned
	// none. The engine requires check hooks to return exactly one.
	Verdict domain.Verdict

	// ActionData and PolicyData patch the respective scratch stores. A nil
	// value removes the key.
	ActionData map[string]any
	PolicyData map[string]any

	// ActionFields patches the settable payload fields of the action. Only
	// whitelisted fields are honoured by the engine.
	ActionFields map[string]any

	// Notices are messages for the community, surfaced as events.
	Notices []string

	// Execute overrides whether a passed action's effect runs; nil means the
	// default of true.
	Execute *bool

	// Revert asks the engine to issue the compensating platform call of a
	// failed community-origin action.
	Revert bool
}

// Matched reports whether a filter result claimed the action.
func (r *Result) Matched() bool {
	return r.Match != nil && *r.Match
}

// ShouldExecute reports whether a success result wants the effect to run.
func (r *Result) ShouldExecute() bool {
	return r.Execute == nil || *r.Execute
}

func parseResult(payload map[string]any) (*Result, error) {
	res := &Result{}

	if raw, ok := payload["match"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("result.match must be boolean, got %T", raw)
		}
		res.Match = &b
	}

	if raw, ok := payload["verdict"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("result.verdict must be string, got %T", raw)
		}
		verdict, ok := domain.ParseVerdict(s)
		if !ok {
			return nil, fmt.Errorf("result.verdict: unknown verdict %q", s)
		}
		res.Verdict = verdict
	}

	var err error
	if res.ActionData, err = parsePatch(payload, "action_data"); err != nil {
		return nil, err
	}
	if res.PolicyData, err = parsePatch(payload, "policy_data"); err != nil {
		return nil, err
	}
	if res.ActionFields, err = parsePatch(payload, "action"); err != nil {
		return nil, err
	}

	if raw, ok := payload["notices"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("result.notices must be array, got %T", raw)
		}
		res.Notices = make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("result.notices entries must be strings, got %T", item)
			}
			res.Notices = append(res.Notices, s)
		}
	}

	if raw, ok := payload["execute"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("result.execute must be boolean, got %T", raw)
		}
		res.Execute = &b
	}

	if raw, ok := payload["revert"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("result.revert must be boolean, got %T", raw)
		}
		res.Revert = b
	}

	return res, nil
}

func parsePatch(payload map[string]any, key string) (map[string]any, error) {
	raw, ok := payload[key]
	if !ok {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("result.%s must be object, got %T", key, raw)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out, nil
}

// normalizeValue rewrites json.Number leaves into int64 or float64 so scratch
// state round-trips through hooks without type drift.
func normalizeValue(v any) any {
	switch typed := v.(type) {
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
