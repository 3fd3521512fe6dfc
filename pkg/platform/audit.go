package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/storage"
)

// AuditLog is adapter middleware that records every outbound call before
// delegating. The record is the community's audit trail and lets event
// ingestion distinguish engine-made calls from member activity, so the
// engine never governs its own effects.
type AuditLog struct {
	next  Adapter
	store storage.AuditStore
}

// NewAuditLog wraps an adapter with call recording.
func NewAuditLog(next Adapter, store storage.AuditStore) *AuditLog {
	return &AuditLog{next: next, store: store}
}

// Execute records the call, then delegates. A record that cannot be written
// fails the call: effects without an audit trail are worse than no effects.
func (al *AuditLog) Execute(ctx context.Context, action *domain.Action) error {
	call, ok := action.Payload.(domain.PlatformCall)
	if !ok {
		return fmt.Errorf("action %s is not a platform call", action.ID)
	}
	rec := &domain.APICallRecord{
		Community: action.Community,
		Call:      call.Call,
		Values:    call.Values,
		At:        time.Now(),
	}
	if err := al.store.RecordAPICall(ctx, rec); err != nil {
		return fmt.Errorf("record api call: %w", err)
	}
	return al.next.Execute(ctx, action)
}

// Revert records the revert call, then delegates. Actions without a revert
// call are a no-op.
func (al *AuditLog) Revert(ctx context.Context, action *domain.Action) error {
	call, ok := action.Payload.(domain.PlatformCall)
	if !ok {
		return fmt.Errorf("action %s is not a platform call", action.ID)
	}
	if call.RevertCall == "" {
		return nil
	}
	rec := &domain.APICallRecord{
		Community: action.Community,
		Call:      call.RevertCall,
		Values:    call.RevertValues,
		At:        time.Now(),
	}
	if err := al.store.RecordAPICall(ctx, rec); err != nil {
		return fmt.Errorf("record api call: %w", err)
	}
	return al.next.Revert(ctx, action)
}
