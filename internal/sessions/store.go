// Package sessions implements the Session Store (C1): three
// implementations (memory, file, Redis) behind one Store contract, plus a
// resilient wrapper that degrades from a primary backend to a fallback
// and recovers once the primary is reachable again.
package sessions

import (
	"context"
	"errors"

	"github.com/goatbytes/consoul/internal/models"
)

// ErrNotFound is a convenience sentinel for callers that prefer an error
// over Load's plain nil-return-on-miss contract.
var ErrNotFound = errors.New("sessions: not found")

// Store is the C1 persistence contract: save, load, delete, list.
type Store interface {
	// Save persists state, atomically overwriting any prior record for
	// the same SessionID.
	Save(ctx context.Context, state *models.Session) error

	// Load returns the session, or (nil, nil) if missing or expired.
	Load(ctx context.Context, sessionID string) (*models.Session, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns session IDs most-recent-first. limit=0 returns an
	// empty slice; offset beyond the count returns an empty slice.
	List(ctx context.Context, namespace string, limit, offset int) ([]string, error)
}

// Hook lets callers observe or transform session state around store
// operations, generalizing the source's duck-typed session-hook protocol
// (audit/encryption/redaction/validation hooks) into an explicit interface.
type Hook interface {
	BeforeSave(ctx context.Context, state *models.Session) error
	AfterLoad(ctx context.Context, state *models.Session) error
	AfterSave(ctx context.Context, state *models.Session) error
}
