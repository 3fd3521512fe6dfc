package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/hook"
)

// applyEffect performs the real change a passed action stands for. Governance
// kinds mutate exactly one entity in the community store; platform calls go
// out through the dispatcher; bundles fan out to their members. Effects that
// reference entities that no longer exist are benign no-ops, so a delete or
// edit racing an earlier delete still completes the action.
func (e *Engine) applyEffect(ctx context.Context, action *domain.Action) error {
	switch p := action.Payload.(type) {
	case domain.AddDocument:
		return e.effectAddDocument(ctx, action, p)
	case domain.EditDocument:
		return e.effectEditDocument(ctx, action, p)
	case domain.DeleteDocument:
		return e.effectDeleteDocument(ctx, action, p)
	case domain.AddRole:
		return e.effectAddRole(ctx, action, p)
	case domain.EditRole:
		return e.effectEditRole(ctx, action, p)
	case domain.DeleteRole:
		return e.effectDeleteRole(ctx, action, p)
	case domain.AssignRole:
		return e.effectAssignRole(ctx, action, p.RoleID, p.Members)
	case domain.UnassignRole:
		return e.effectUnassignRole(ctx, action, p.RoleID, p.Members)
	case domain.AddGovernancePolicy:
		return e.effectAddPolicy(ctx, action, domain.CategoryGovernance, p.Spec)
	case domain.ChangeGovernancePolicy:
		return e.effectChangePolicy(ctx, action, domain.CategoryGovernance, p.PolicyID, p.Spec)
	case domain.RemoveGovernancePolicy:
		return e.effectRemovePolicy(ctx, action, domain.CategoryGovernance, p.PolicyID)
	case domain.AddPlatformPolicy:
		return e.effectAddPolicy(ctx, action, domain.CategoryPlatform, p.Spec)
	case domain.ChangePlatformPolicy:
		return e.effectChangePolicy(ctx, action, domain.CategoryPlatform, p.PolicyID, p.Spec)
	case domain.RemovePlatformPolicy:
		return e.effectRemovePolicy(ctx, action, domain.CategoryPlatform, p.PolicyID)
	case domain.PlatformCall:
		return e.effectPlatformCall(ctx, action)
	case domain.GovernanceBundle:
		return e.executeBundle(ctx, action, p.Bundle)
	case domain.PlatformBundle:
		return e.executeBundle(ctx, action, p.Bundle)
	default:
		return fmt.Errorf("%w: %s has no effect", domain.ErrUnknownActionKind, action.Kind)
	}
}

func (e *Engine) effectAddDocument(ctx context.Context, action *domain.Action, p domain.AddDocument) error {
	doc := &domain.Document{
		ID:        uuid.NewString(),
		Community: action.Community,
		Name:      p.Name,
		Text:      p.Text,
	}
	if err := e.store.SaveDocument(ctx, doc); err != nil {
		return err
	}
	action.Data.Set("document_id", doc.ID)
	e.logger.Debug("document added",
		"action_id", action.ID, "document_id", doc.ID, "name", doc.Name)
	return nil
}

func (e *Engine) effectEditDocument(ctx context.Context, action *domain.Action, p domain.EditDocument) error {
	doc, err := e.store.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return e.absentEntity(action, err, "document", p.DocumentID)
	}
	if doc.Community != action.Community {
		return e.foreignEntity(action, "document", p.DocumentID)
	}
	doc.Name = p.Name
	doc.Text = p.Text
	return e.store.SaveDocument(ctx, doc)
}

func (e *Engine) effectDeleteDocument(ctx context.Context, action *domain.Action, p domain.DeleteDocument) error {
	doc, err := e.store.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return e.absentEntity(action, err, "document", p.DocumentID)
	}
	if doc.Community != action.Community {
		return e.foreignEntity(action, "document", p.DocumentID)
	}
	if err := e.store.DeleteDocument(ctx, p.DocumentID); err != nil {
		return e.absentEntity(action, err, "document", p.DocumentID)
	}
	return nil
}

func (e *Engine) effectAddRole(ctx context.Context, action *domain.Action, p domain.AddRole) error {
	role := &domain.Role{
		ID:           uuid.NewString(),
		Community:    action.Community,
		Name:         p.Name,
		Description:  p.Description,
		Capabilities: p.Capabilities,
	}
	if err := e.store.SaveRole(ctx, role); err != nil {
		return err
	}
	action.Data.Set("role_id", role.ID)
	e.logger.Debug("role added",
		"action_id", action.ID, "role_id", role.ID, "name", role.Name)
	return nil
}

func (e *Engine) effectEditRole(ctx context.Context, action *domain.Action, p domain.EditRole) error {
	role, err := e.store.GetRole(ctx, p.RoleID)
	if err != nil {
		return e.absentEntity(action, err, "role", p.RoleID)
	}
	if role.Community != action.Community {
		return e.foreignEntity(action, "role", p.RoleID)
	}
	role.Name = p.Name
	role.Description = p.Description
	role.Capabilities = p.Capabilities
	return e.store.SaveRole(ctx, role)
}

func (e *Engine) effectDeleteRole(ctx context.Context, action *domain.Action, p domain.DeleteRole) error {
	role, err := e.store.GetRole(ctx, p.RoleID)
	if err != nil {
		return e.absentEntity(action, err, "role", p.RoleID)
	}
	if role.Community != action.Community {
		return e.foreignEntity(action, "role", p.RoleID)
	}
	if err := e.store.DeleteRole(ctx, p.RoleID); err != nil {
		return e.absentEntity(action, err, "role", p.RoleID)
	}
	return nil
}

func (e *Engine) effectAssignRole(ctx context.Context, action *domain.Action, roleID string, members []string) error {
	role, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return e.absentEntity(action, err, "role", roleID)
	}
	if role.Community != action.Community {
		return e.foreignEntity(action, "role", roleID)
	}
	for _, id := range members {
		role.AddMember(id)
	}
	return e.store.SaveRole(ctx, role)
}

func (e *Engine) effectUnassignRole(ctx context.Context, action *domain.Action, roleID string, members []string) error {
	role, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return e.absentEntity(action, err, "role", roleID)
	}
	if role.Community != action.Community {
		return e.foreignEntity(action, "role", roleID)
	}
	for _, id := range members {
		role.RemoveMember(id)
	}
	return e.store.SaveRole(ctx, role)
}

func (e *Engine) effectAddPolicy(ctx context.Context, action *domain.Action, category domain.PolicyCategory, spec domain.PolicySpec) error {
	spec.Hooks = hook.Complete(spec.Hooks)
	if err := e.hooks.Admit(ctx, spec.Hooks); err != nil {
		return err
	}
	pol := domain.NewPolicyFromSpec(uuid.NewString(), action.Community, category, spec, time.Now())
	if err := e.store.SavePolicy(ctx, pol); err != nil {
		return err
	}
	action.Data.Set("policy_id", pol.ID)
	e.logger.Info("policy installed",
		"action_id", action.ID,
		"policy_id", pol.ID,
		"category", category,
		"name", pol.Name,
		"bundled", pol.IsBundled,
	)
	return nil
}

func (e *Engine) effectChangePolicy(ctx context.Context, action *domain.Action, category domain.PolicyCategory, policyID string, spec domain.PolicySpec) error {
	pol, err := e.store.GetPolicy(ctx, policyID)
	if err != nil {
		return e.absentEntity(action, err, "policy", policyID)
	}
	if pol.Community != action.Community || pol.Category != category {
		return e.foreignEntity(action, "policy", policyID)
	}
	spec.Hooks = hook.Complete(spec.Hooks)
	if err := e.hooks.Admit(ctx, spec.Hooks); err != nil {
		return err
	}
	pol.Name = spec.Name
	pol.Description = spec.Description
	pol.Hooks = spec.Hooks
	if err := e.store.SavePolicy(ctx, pol); err != nil {
		return err
	}
	// Compiled programs are keyed by hook revision, but dropping the stale
	// entry keeps the cache from accumulating dead revisions.
	e.hooks.Invalidate(policyID)
	e.logger.Info("policy changed",
		"action_id", action.ID, "policy_id", policyID, "name", pol.Name)
	return nil
}

func (e *Engine) effectRemovePolicy(ctx context.Context, action *domain.Action, category domain.PolicyCategory, policyID string) error {
	pol, err := e.store.GetPolicy(ctx, policyID)
	if err != nil {
		return e.absentEntity(action, err, "policy", policyID)
	}
	if pol.Community != action.Community || pol.Category != category {
		return e.foreignEntity(action, "policy", policyID)
	}
	if err := e.store.DeletePolicy(ctx, policyID); err != nil {
		return e.absentEntity(action, err, "policy", policyID)
	}
	e.hooks.Invalidate(policyID)
	e.logger.Info("policy removed",
		"action_id", action.ID, "policy_id", policyID)
	return nil
}

func (e *Engine) effectPlatformCall(ctx context.Context, action *domain.Action) error {
	if e.platform == nil {
		return fmt.Errorf("action %s: no platform dispatcher configured", action.ID)
	}
	return e.platform.Execute(ctx, action)
}

// absentEntity downgrades a not-found error to a logged no-op; anything else
// is a real storage fault.
func (e *Engine) absentEntity(action *domain.Action, err error, entity, id string) error {
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	e.logger.Info("effect target already absent; nothing to do",
		"action_id", action.ID, "entity", entity, "entity_id", id)
	return nil
}

// foreignEntity treats a reference into another community (or the wrong
// policy pool) exactly like a missing one.
func (e *Engine) foreignEntity(action *domain.Action, entity, id string) error {
	e.logger.Warn("effect target outside the action's community; nothing to do",
		"action_id", action.ID, "entity", entity, "entity_id", id)
	return nil
}
