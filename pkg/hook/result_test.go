package hook

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/polisai/agora/pkg/domain"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		check   func(*testing.T, *Result)
		wantErr string
	}{
		{
			name:    "empty object",
			payload: map[string]any{},
			check: func(t *testing.T, r *Result) {
				if r.Match != nil || r.Verdict != "" || r.Execute != nil || r.Revert {
					t.Fatalf("empty payload produced outputs: %+v", r)
				}
			},
		},
		{
			name:    "match false is a claim refusal",
			payload: map[string]any{"match": false},
			check: func(t *testing.T, r *Result) {
				if r.Match == nil || *r.Match || r.Matched() {
					t.Fatal("match=false parsed wrong")
				}
			},
		},
		{
			name:    "verdict proposed",
			payload: map[string]any{"verdict": "proposed"},
			check: func(t *testing.T, r *Result) {
				if r.Verdict != domain.VerdictProposed {
					t.Fatalf("verdict = %q", r.Verdict)
				}
			},
		},
		{
			name:    "execute false",
			payload: map[string]any{"execute": false},
			check: func(t *testing.T, r *Result) {
				if r.ShouldExecute() {
					t.Fatal("execute=false ignored")
				}
			},
		},
		{
			name: "notices and revert",
			payload: map[string]any{
				"notices": []any{"first", "second"},
				"revert":  true,
			},
			check: func(t *testing.T, r *Result) {
				if len(r.Notices) != 2 || r.Notices[0] != "first" || !r.Revert {
					t.Fatalf("notices/revert parsed wrong: %+v", r)
				}
			},
		},
		{
			name:    "match wrong type",
			payload: map[string]any{"match": "yes"},
			wantErr: "match must be boolean",
		},
		{
			name:    "unknown verdict",
			payload: map[string]any{"verdict": "vetoed"},
			wantErr: "unknown verdict",
		},
		{
			name:    "action_data wrong type",
			payload: map[string]any{"action_data": []any{"x"}},
			wantErr: "action_data must be object",
		},
		{
			name:    "notice wrong element type",
			payload: map[string]any{"notices": []any{"ok", 5}},
			wantErr: "notices entries must be strings",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := parseResult(tc.payload)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("error = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			tc.check(t, res)
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	got := normalizeValue(map[string]any{
		"int":   json.Number("42"),
		"float": json.Number("2.5"),
		"list":  []any{json.Number("1"), "s"},
	}).(map[string]any)

	if got["int"] != int64(42) {
		t.Fatalf("int = %v (%T)", got["int"], got["int"])
	}
	if got["float"] != 2.5 {
		t.Fatalf("float = %v (%T)", got["float"], got["float"])
	}
	list := got["list"].([]any)
	if list[0] != int64(1) || list[1] != "s" {
		t.Fatalf("list = %v", list)
	}
}

func TestCompleteFillsOnlyEmptyStages(t *testing.T) {
	custom := `package agora.hook

result := {"match": false}
`
	h := Complete(domain.HookSet{Filter: custom})
	if h.Filter != custom {
		t.Fatal("authored filter overwritten")
	}
	if h.Check != DefaultCheck || h.Success != DefaultSuccess {
		t.Fatal("empty stages not completed")
	}
}
