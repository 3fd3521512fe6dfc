package domain

import (
	"fmt"
	"time"
)

// ActionKind tags the closed set of governable operations. Every kind maps to
// exactly one payload type and one policy category.
type ActionKind string

const (
	KindAddDocument    ActionKind = "add_document"
	KindEditDocument   ActionKind = "edit_document"
	KindDeleteDocument ActionKind = "delete_document"

	KindAddRole      ActionKind = "add_role"
	KindEditRole     ActionKind = "edit_role"
	KindDeleteRole   ActionKind = "delete_role"
	KindAssignRole   ActionKind = "assign_role"
	KindUnassignRole ActionKind = "unassign_role"

	KindAddGovernancePolicy    ActionKind = "add_governance_policy"
	KindChangeGovernancePolicy ActionKind = "change_governance_policy"
	KindRemoveGovernancePolicy ActionKind = "remove_governance_policy"
	KindAddPlatformPolicy      ActionKind = "add_platform_policy"
	KindChangePlatformPolicy   ActionKind = "change_platform_policy"
	KindRemovePlatformPolicy   ActionKind = "remove_platform_policy"

	KindPlatformCall ActionKind = "platform_call"

	KindGovernanceBundle ActionKind = "governance_bundle"
	KindPlatformBundle   ActionKind = "platform_bundle"
)

// PolicyCategory splits policies (and the actions they govern) into two
// disjoint pools. Governance actions change the community's own structure;
// platform actions reach out to the underlying platform.
type PolicyCategory string

const (
	CategoryGovernance PolicyCategory = "governance"
	CategoryPlatform   PolicyCategory = "platform"
)

// Valid reports whether the kind belongs to the catalog.
func (k ActionKind) Valid() bool {
	switch k {
	case KindAddDocument, KindEditDocument, KindDeleteDocument,
		KindAddRole, KindEditRole, KindDeleteRole, KindAssignRole, KindUnassignRole,
		KindAddGovernancePolicy, KindChangeGovernancePolicy, KindRemoveGovernancePolicy,
		KindAddPlatformPolicy, KindChangePlatformPolicy, KindRemovePlatformPolicy,
		KindPlatformCall, KindGovernanceBundle, KindPlatformBundle:
		return true
	}
	return false
}

// Category returns the policy pool that governs actions of this kind.
// Platform calls and platform bundles are judged by platform policies;
// everything else, including policy CRUD for either pool, is a governance
// change and is judged by governance policies.
func (k ActionKind) Category() PolicyCategory {
	switch k {
	case KindPlatformCall, KindPlatformBundle:
		return CategoryPlatform
	default:
		return CategoryGovernance
	}
}

// IsBundle reports whether the kind groups other actions or policies.
func (k ActionKind) IsBundle() bool {
	return k == KindGovernanceBundle || k == KindPlatformBundle
}

// Payload carries the kind-specific parameters of an action. The set of
// implementations is closed: one payload type per ActionKind.
type Payload interface {
	Kind() ActionKind
}

// AddDocument creates a community document.
type AddDocument struct {
	Name string
	Text string
}

func (AddDocument) Kind() ActionKind { return KindAddDocument }

// EditDocument replaces the name and text of an existing document.
type EditDocument struct {
	DocumentID string
	Name       string
	Text       string
}

func (EditDocument) Kind() ActionKind { return KindEditDocument }

// DeleteDocument removes a document. Deleting a missing document is a
// benign no-op at execution time.
type DeleteDocument struct {
	DocumentID string
}

func (DeleteDocument) Kind() ActionKind { return KindDeleteDocument }

// AddRole creates a role with an initial capability set.
type AddRole struct {
	Name         string
	Description  string
	Capabilities []string
}

func (AddRole) Kind() ActionKind { return KindAddRole }

// EditRole replaces the name, description, and capabilities of a role.
type EditRole struct {
	RoleID       string
	Name         string
	Description  string
	Capabilities []string
}

func (EditRole) Kind() ActionKind { return KindEditRole }

// DeleteRole removes a role. Deleting a missing role is a benign no-op.
type DeleteRole struct {
	RoleID string
}

func (DeleteRole) Kind() ActionKind { return KindDeleteRole }

// AssignRole grants a role to the listed members.
type AssignRole struct {
	RoleID  string
	Members []string
}

func (AssignRole) Kind() ActionKind { return KindAssignRole }

// UnassignRole revokes a role from the listed members.
type UnassignRole struct {
	RoleID  string
	Members []string
}

func (UnassignRole) Kind() ActionKind { return KindUnassignRole }

// PolicySpec is the authored body of a policy carried inside policy CRUD
// payloads. Hook sources left empty are completed with defaults before
// admission.
type PolicySpec struct {
	Name        string
	Description string
	IsBundled   bool
	Hooks       HookSet
}

// AddGovernancePolicy installs a new policy into the governance pool.
type AddGovernancePolicy struct {
	Spec PolicySpec
}

func (AddGovernancePolicy) Kind() ActionKind { return KindAddGovernancePolicy }

// ChangeGovernancePolicy replaces the body of a governance policy.
type ChangeGovernancePolicy struct {
	PolicyID string
	Spec     PolicySpec
}

func (ChangeGovernancePolicy) Kind() ActionKind { return KindChangeGovernancePolicy }

// RemoveGovernancePolicy deletes a governance policy.
type RemoveGovernancePolicy struct {
	PolicyID string
}

func (RemoveGovernancePolicy) Kind() ActionKind { return KindRemoveGovernancePolicy }

// AddPlatformPolicy installs a new policy into the platform pool.
type AddPlatformPolicy struct {
	Spec PolicySpec
}

func (AddPlatformPolicy) Kind() ActionKind { return KindAddPlatformPolicy }

// ChangePlatformPolicy replaces the body of a platform policy.
type ChangePlatformPolicy struct {
	PolicyID string
	Spec     PolicySpec
}

func (ChangePlatformPolicy) Kind() ActionKind { return KindChangePlatformPolicy }

// RemovePlatformPolicy deletes a platform policy.
type RemovePlatformPolicy struct {
	PolicyID string
}

func (RemovePlatformPolicy) Kind() ActionKind { return KindRemovePlatformPolicy }

// PlatformCall is an outbound operation against the community's platform.
// Call names the operation in the platform adapter's vocabulary; Values are
// its parameters. RevertCall, when set, names the compensating operation.
type PlatformCall struct {
	Call         string
	Values       map[string]any
	RevertCall   string
	RevertValues map[string]any
	Reverted     bool
}

func (PlatformCall) Kind() ActionKind { return KindPlatformCall }

// BundleKind selects how a bundle resolves its members.
type BundleKind string

const (
	// BundlePlain executes every member.
	BundlePlain BundleKind = "plain"
	// BundleElection executes only the member chosen by number votes.
	BundleElection BundleKind = "election"
)

// Bundle groups either member actions or dormant policies, by ID, in a fixed
// order. Number votes on an election bundle select a member by its index.
type Bundle struct {
	BundleKind BundleKind
	Actions    []string
	Policies   []string
}

// GovernanceBundle groups governance actions or policies for atomic handling.
type GovernanceBundle struct {
	Bundle
}

func (GovernanceBundle) Kind() ActionKind { return KindGovernanceBundle }

// PlatformBundle groups platform actions or policies for atomic handling.
type PlatformBundle struct {
	Bundle
}

func (PlatformBundle) Kind() ActionKind { return KindPlatformBundle }

// BundleOf extracts the bundle body from an action payload, reporting whether
// the action is a bundle at all.
func BundleOf(a *Action) (Bundle, bool) {
	switch p := a.Payload.(type) {
	case GovernanceBundle:
		return p.Bundle, true
	case PlatformBundle:
		return p.Bundle, true
	default:
		return Bundle{}, false
	}
}

// Action is a proposed operation inside a community. An action never executes
// directly: it is gated, then judged by the matching policy pool through its
// proposal, and only a passed proposal triggers the effect.
type Action struct {
	ID        string
	Community string
	Initiator string
	Kind      ActionKind
	Payload   Payload

	// CommunityOrigin marks actions first observed on the platform rather
	// than proposed through Agora; a failed community-origin platform call
	// may be reverted by the fail hook.
	CommunityOrigin bool

	// IsBundled marks an action owned by a bundle. Bundled actions skip the
	// gate fast path and the policy loop; they resolve when their bundle
	// executes.
	IsBundled bool

	Data      *DataStore
	CreatedAt time.Time
}

// Validate checks structural integrity before the action enters governance.
func (a *Action) Validate() error {
	if a.Community == "" {
		return fmt.Errorf("%w: missing community", ErrInvalidAction)
	}
	if a.Initiator == "" {
		return fmt.Errorf("%w: missing initiator", ErrInvalidAction)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownActionKind, a.Kind)
	}
	if a.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidAction)
	}
	if a.Payload.Kind() != a.Kind {
		return fmt.Errorf("%w: payload kind %q does not match action kind %q",
			ErrInvalidAction, a.Payload.Kind(), a.Kind)
	}
	if b, ok := BundleOf(a); ok {
		if b.BundleKind != BundlePlain && b.BundleKind != BundleElection {
			return fmt.Errorf("%w: unknown bundle kind %q", ErrInvalidAction, b.BundleKind)
		}
		if len(b.Actions) > 0 && len(b.Policies) > 0 {
			return fmt.Errorf("%w: bundle mixes actions and policies", ErrInvalidAction)
		}
	}
	return nil
}

// Category returns the policy pool that judges this action.
func (a *Action) Category() PolicyCategory {
	return a.Kind.Category()
}

// PayloadFields flattens a payload into the JSON-shaped map exposed to hooks
// under input.action.
func PayloadFields(p Payload) map[string]any {
	switch v := p.(type) {
	case AddDocument:
		return map[string]any{"name": v.Name, "text": v.Text}
	case EditDocument:
		return map[string]any{"document_id": v.DocumentID, "name": v.Name, "text": v.Text}
	case DeleteDocument:
		return map[string]any{"document_id": v.DocumentID}
	case AddRole:
		return map[string]any{"name": v.Name, "description": v.Description, "capabilities": stringsToAny(v.Capabilities)}
	case EditRole:
		return map[string]any{"role_id": v.RoleID, "name": v.Name, "description": v.Description, "capabilities": stringsToAny(v.Capabilities)}
	case DeleteRole:
		return map[string]any{"role_id": v.RoleID}
	case AssignRole:
		return map[string]any{"role_id": v.RoleID, "members": stringsToAny(v.Members)}
	case UnassignRole:
		return map[string]any{"role_id": v.RoleID, "members": stringsToAny(v.Members)}
	case AddGovernancePolicy:
		return map[string]any{"spec": specFields(v.Spec)}
	case ChangeGovernancePolicy:
		return map[string]any{"policy_id": v.PolicyID, "spec": specFields(v.Spec)}
	case RemoveGovernancePolicy:
		return map[string]any{"policy_id": v.PolicyID}
	case AddPlatformPolicy:
		return map[string]any{"spec": specFields(v.Spec)}
	case ChangePlatformPolicy:
		return map[string]any{"policy_id": v.PolicyID, "spec": specFields(v.Spec)}
	case RemovePlatformPolicy:
		return map[string]any{"policy_id": v.PolicyID}
	case PlatformCall:
		return map[string]any{
			"call":          v.Call,
			"values":        v.Values,
			"revert_call":   v.RevertCall,
			"revert_values": v.RevertValues,
			"reverted":      v.Reverted,
		}
	case GovernanceBundle:
		return bundleFields(v.Bundle)
	case PlatformBundle:
		return bundleFields(v.Bundle)
	default:
		return map[string]any{}
	}
}

func specFields(s PolicySpec) map[string]any {
	return map[string]any{
		"name":        s.Name,
		"description": s.Description,
		"is_bundled":  s.IsBundled,
	}
}

func bundleFields(b Bundle) map[string]any {
	return map[string]any{
		"bundle_kind": string(b.BundleKind),
		"actions":     stringsToAny(b.Actions),
		"policies":    stringsToAny(b.Policies),
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
