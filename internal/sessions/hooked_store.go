package sessions

import (
	"context"

	"github.com/goatbytes/consoul/internal/models"
)

// HookedStore decorates a Store with an ordered chain of Hooks, grounded on
// the source's session_hooks (audit_hook, encryption_hook, redaction_hook,
// validation_hook) duck-typed protocol, generalized into explicit
// BeforeSave/AfterLoad/AfterSave stages composed decoratively.
type HookedStore struct {
	inner Store
	hooks []Hook
}

// NewHookedStore wraps inner with hooks, applied in order for BeforeSave
// and AfterSave, and in order for AfterLoad.
func NewHookedStore(inner Store, hooks ...Hook) *HookedStore {
	return &HookedStore{inner: inner, hooks: hooks}
}

func (h *HookedStore) Save(ctx context.Context, state *models.Session) error {
	for _, hook := range h.hooks {
		if err := hook.BeforeSave(ctx, state); err != nil {
			return err
		}
	}
	if err := h.inner.Save(ctx, state); err != nil {
		return err
	}
	for _, hook := range h.hooks {
		if err := hook.AfterSave(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

func (h *HookedStore) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	state, err := h.inner.Load(ctx, sessionID)
	if err != nil || state == nil {
		return state, err
	}
	for _, hook := range h.hooks {
		if err := hook.AfterLoad(ctx, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func (h *HookedStore) Delete(ctx context.Context, sessionID string) error {
	return h.inner.Delete(ctx, sessionID)
}

func (h *HookedStore) List(ctx context.Context, namespace string, limit, offset int) ([]string, error) {
	return h.inner.List(ctx, namespace, limit, offset)
}

// ValidationHook enforces basic Session invariants on save: updated_at
// never precedes created_at, and history stays within MaxMessages.
type ValidationHook struct {
	MaxMessages int
}

func (v ValidationHook) BeforeSave(_ context.Context, state *models.Session) error {
	if state.UpdatedAt.Before(state.CreatedAt) {
		state.UpdatedAt = state.CreatedAt
	}
	if v.MaxMessages > 0 && len(state.Messages) > v.MaxMessages {
		trimmed := make([]models.Message, 0, v.MaxMessages)
		start := len(state.Messages) - v.MaxMessages
		if len(state.Messages) > 0 && state.Messages[0].Role == models.RoleSystem {
			trimmed = append(trimmed, state.Messages[0])
			start++
		}
		trimmed = append(trimmed, state.Messages[start:]...)
		state.Messages = trimmed
	}
	return nil
}

func (ValidationHook) AfterLoad(context.Context, *models.Session) error { return nil }
func (ValidationHook) AfterSave(context.Context, *models.Session) error { return nil }
