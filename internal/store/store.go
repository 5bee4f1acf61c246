package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// CredentialStore persists refresh credentials keyed by account email.
type CredentialStore interface {
	// Get returns the credential for the account, or ErrNotFound.
	Get(ctx context.Context, accountID string) (*Credential, error)

	// Save persists the credential, merging over any existing record.
	Save(ctx context.Context, cred *Credential) error

	// TouchLastSynced updates only the account's lastSyncedAt marker.
	TouchLastSynced(ctx context.Context, accountID string, t time.Time) error
}

// CursorStore persists the per-account sync watermark.
type CursorStore interface {
	// Get returns the cursor for the account, or ErrNotFound on cold start.
	Get(ctx context.Context, accountID string) (*SyncCursor, error)

	// Save replaces the cursor for the account.
	Save(ctx context.Context, cursor *SyncCursor) error
}

// StagingStore is the idempotent staging mapping from message id to item.
// Idempotency by id is the sole concurrency safeguard; no transactional
// isolation is assumed beyond atomic per-document writes.
type StagingStore interface {
	// Upsert stages the item if its id is not already present and reports
	// whether a new record was created. An existing record is left untouched
	// so re-staging never clobbers review or error state.
	Upsert(ctx context.Context, item *StagingItem) (created bool, err error)

	// Get returns the item by message id, or ErrNotFound.
	Get(ctx context.Context, id string) (*StagingItem, error)

	// ListPending returns up to limit pending items for the account key,
	// oldest first.
	ListPending(ctx context.Context, accountKey string, limit int) ([]*StagingItem, error)

	// List returns items for the account key, optionally filtered by status
	// (empty status means all).
	List(ctx context.Context, accountKey string, status Status) ([]*StagingItem, error)

	// SetStatus transitions the item and replaces its parsed payload. An
	// empty payload clears any stored payload.
	SetStatus(ctx context.Context, id string, status Status, payload string) error

	// Delete removes the item unconditionally. Deleting a missing id is not
	// an error.
	Delete(ctx context.Context, id string) error
}

// TriggerStore persists the per-account automatic-trigger timestamps with
// compare-and-set semantics, so correctness does not depend on a single
// client session.
type TriggerStore interface {
	// TryAcquire atomically records now as the last attempt of the given
	// kind and returns true, unless the previous attempt is younger than
	// cooldown, in which case nothing is written and false is returned.
	TryAcquire(ctx context.Context, accountID string, kind TriggerKind, cooldown time.Duration, now time.Time) (bool, error)

	// Reset unconditionally records now as the last attempt of the given
	// kind. Manual runs use this so they do not immediately re-trigger the
	// automatic path.
	Reset(ctx context.Context, accountID string, kind TriggerKind, now time.Time) error
}
