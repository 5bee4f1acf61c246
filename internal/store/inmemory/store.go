// Package inmemory provides map-backed implementations of the store
// interfaces. They are safe for concurrent use and suitable for tests and
// single-instance local development; data is lost on restart.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vigneshprince/expensetracker/internal/store"
)

// Store implements all store interfaces in memory.
type Store struct {
	mu          sync.Mutex
	credentials map[string]store.Credential
	cursors     map[string]store.SyncCursor
	staging     map[string]store.StagingItem
	triggers    map[string]store.TriggerRecord
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		credentials: make(map[string]store.Credential),
		cursors:     make(map[string]store.SyncCursor),
		staging:     make(map[string]store.StagingItem),
		triggers:    make(map[string]store.TriggerRecord),
	}
}

// Get implements CredentialStore.
func (s *Store) Get(ctx context.Context, accountID string) (*store.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	credCopy := cred
	return &credCopy, nil
}

// Save implements CredentialStore. A zero RefreshToken merges over an
// existing record without discarding the stored token.
func (s *Store) Save(ctx context.Context, cred *store.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := *cred
	if existing, ok := s.credentials[cred.AccountID]; ok {
		if merged.RefreshToken == "" {
			merged.RefreshToken = existing.RefreshToken
		}
		if merged.LastSyncedAt.IsZero() {
			merged.LastSyncedAt = existing.LastSyncedAt
		}
	}
	s.credentials[cred.AccountID] = merged
	return nil
}

// TouchLastSynced implements CredentialStore.
func (s *Store) TouchLastSynced(ctx context.Context, accountID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred := s.credentials[accountID]
	cred.AccountID = accountID
	cred.LastSyncedAt = t
	s.credentials[accountID] = cred
	return nil
}

// GetCursor implements CursorStore.
func (s *Store) GetCursor(ctx context.Context, accountID string) (*store.SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, ok := s.cursors[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cursorCopy := cursor
	return &cursorCopy, nil
}

// SaveCursor implements CursorStore.
func (s *Store) SaveCursor(ctx context.Context, cursor *store.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[cursor.AccountID] = *cursor
	return nil
}

// Upsert implements StagingStore. An existing id is left untouched.
func (s *Store) Upsert(ctx context.Context, item *store.StagingItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.staging[item.ID]; exists {
		return false, nil
	}
	s.staging[item.ID] = *item
	return true, nil
}

// GetItem implements StagingStore.
func (s *Store) GetItem(ctx context.Context, id string) (*store.StagingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.staging[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	itemCopy := item
	return &itemCopy, nil
}

// ListPending implements StagingStore.
func (s *Store) ListPending(ctx context.Context, accountKey string, limit int) ([]*store.StagingItem, error) {
	items, err := s.List(ctx, accountKey, store.StatusPending)
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

// List implements StagingStore.
func (s *Store) List(ctx context.Context, accountKey string, status store.Status) ([]*store.StagingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*store.StagingItem
	for _, item := range s.staging {
		if item.AccountKey != accountKey {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		itemCopy := item
		result = append(result, &itemCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// SetStatus implements StagingStore.
func (s *Store) SetStatus(ctx context.Context, id string, status store.Status, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.staging[id]
	if !ok {
		return store.ErrNotFound
	}
	item.Status = status
	item.ParsedPayload = payload
	s.staging[id] = item
	return nil
}

// Delete implements StagingStore.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.staging, id)
	return nil
}

// TryAcquire implements TriggerStore.
func (s *Store) TryAcquire(ctx context.Context, accountID string, kind store.TriggerKind, cooldown time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.triggers[accountID]
	last := rec.LastAutoSyncAt
	if kind == store.TriggerProcess {
		last = rec.LastAutoProcessAt
	}
	if !last.IsZero() && now.Sub(last) < cooldown {
		return false, nil
	}
	s.setTriggerLocked(accountID, kind, now)
	return true, nil
}

// Reset implements TriggerStore.
func (s *Store) Reset(ctx context.Context, accountID string, kind store.TriggerKind, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setTriggerLocked(accountID, kind, now)
	return nil
}

func (s *Store) setTriggerLocked(accountID string, kind store.TriggerKind, now time.Time) {
	rec := s.triggers[accountID]
	rec.AccountID = accountID
	if kind == store.TriggerProcess {
		rec.LastAutoProcessAt = now
	} else {
		rec.LastAutoSyncAt = now
	}
	s.triggers[accountID] = rec
}

var (
	_ store.CredentialStore = (*credentialView)(nil)
	_ store.CursorStore     = (*cursorView)(nil)
	_ store.StagingStore    = (*stagingView)(nil)
	_ store.TriggerStore    = (*Store)(nil)
)

// The Get/GetCursor/GetItem split below exists because the three store
// interfaces each declare a Get method with a different signature; thin views
// map the interface names onto the shared Store.

type credentialView struct{ *Store }

func (v credentialView) Get(ctx context.Context, accountID string) (*store.Credential, error) {
	return v.Store.Get(ctx, accountID)
}

type cursorView struct{ *Store }

func (v cursorView) Get(ctx context.Context, accountID string) (*store.SyncCursor, error) {
	return v.Store.GetCursor(ctx, accountID)
}

func (v cursorView) Save(ctx context.Context, cursor *store.SyncCursor) error {
	return v.Store.SaveCursor(ctx, cursor)
}

type stagingView struct{ *Store }

func (v stagingView) Get(ctx context.Context, id string) (*store.StagingItem, error) {
	return v.Store.GetItem(ctx, id)
}

// Credentials returns the store as a CredentialStore.
func (s *Store) Credentials() store.CredentialStore { return credentialView{s} }

// Cursors returns the store as a CursorStore.
func (s *Store) Cursors() store.CursorStore { return cursorView{s} }

// Staging returns the store as a StagingStore.
func (s *Store) Staging() store.StagingStore { return stagingView{s} }

// Triggers returns the store as a TriggerStore.
func (s *Store) Triggers() store.TriggerStore { return s }
