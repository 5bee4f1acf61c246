// Package firestore backs the store interfaces with Cloud Firestore.
// Documents are keyed by account id (credentials, cursors, triggers) or by
// message id (staging), giving the atomic per-document writes the pipeline
// relies on.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vigneshprince/expensetracker/internal/store"
)

const (
	credentialsCollection = "credentials"
	cursorsCollection     = "syncCursors"
	stagingCollection     = "staging"
	triggersCollection    = "syncTriggers"
)

// NewClient creates a Firestore client for the given project. It assumes
// Application Default Credentials are configured.
func NewClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return client, nil
}

// CredentialStore implements store.CredentialStore on Firestore.
type CredentialStore struct {
	client *firestore.Client
}

// NewCredentialStore creates a Firestore-backed credential store.
func NewCredentialStore(client *firestore.Client) *CredentialStore {
	return &CredentialStore{client: client}
}

func (s *CredentialStore) doc(accountID string) *firestore.DocumentRef {
	return s.client.Collection(credentialsCollection).Doc(accountID)
}

// Get implements store.CredentialStore.
func (s *CredentialStore) Get(ctx context.Context, accountID string) (*store.Credential, error) {
	snap, err := s.doc(accountID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", accountID, err)
	}

	var cred store.Credential
	if err := snap.DataTo(&cred); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", accountID, err)
	}
	return &cred, nil
}

// Save implements store.CredentialStore. The write merges over any existing
// record so a re-consent without a fresh refresh token keeps the stored one.
func (s *CredentialStore) Save(ctx context.Context, cred *store.Credential) error {
	data := map[string]interface{}{
		"accountId":    cred.AccountID,
		"lastSyncedAt": cred.LastSyncedAt,
	}
	if cred.RefreshToken != "" {
		data["refreshToken"] = cred.RefreshToken
	}

	if _, err := s.doc(cred.AccountID).Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("save credential %s: %w", cred.AccountID, err)
	}
	return nil
}

// TouchLastSynced implements store.CredentialStore.
func (s *CredentialStore) TouchLastSynced(ctx context.Context, accountID string, t time.Time) error {
	data := map[string]interface{}{
		"accountId":    accountID,
		"lastSyncedAt": t,
	}
	if _, err := s.doc(accountID).Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("touch lastSyncedAt %s: %w", accountID, err)
	}
	return nil
}

// CursorStore implements store.CursorStore on Firestore.
type CursorStore struct {
	client *firestore.Client
}

// NewCursorStore creates a Firestore-backed cursor store.
func NewCursorStore(client *firestore.Client) *CursorStore {
	return &CursorStore{client: client}
}

// Get implements store.CursorStore.
func (s *CursorStore) Get(ctx context.Context, accountID string) (*store.SyncCursor, error) {
	snap, err := s.client.Collection(cursorsCollection).Doc(accountID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", accountID, err)
	}

	var cursor store.SyncCursor
	if err := snap.DataTo(&cursor); err != nil {
		return nil, fmt.Errorf("decode cursor %s: %w", accountID, err)
	}
	return &cursor, nil
}

// Save implements store.CursorStore.
func (s *CursorStore) Save(ctx context.Context, cursor *store.SyncCursor) error {
	if _, err := s.client.Collection(cursorsCollection).Doc(cursor.AccountID).Set(ctx, cursor); err != nil {
		return fmt.Errorf("save cursor %s: %w", cursor.AccountID, err)
	}
	return nil
}

// StagingStore implements store.StagingStore on Firestore.
type StagingStore struct {
	client *firestore.Client
}

// NewStagingStore creates a Firestore-backed staging store.
func NewStagingStore(client *firestore.Client) *StagingStore {
	return &StagingStore{client: client}
}

func (s *StagingStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(stagingCollection).Doc(id)
}

// Upsert implements store.StagingStore. Create is atomic per document, so a
// duplicate delivery loses the race cleanly and leaves the existing item
// untouched.
func (s *StagingStore) Upsert(ctx context.Context, item *store.StagingItem) (bool, error) {
	_, err := s.doc(item.ID).Create(ctx, item)
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stage message %s: %w", item.ID, err)
	}
	return true, nil
}

// Get implements store.StagingStore.
func (s *StagingStore) Get(ctx context.Context, id string) (*store.StagingItem, error) {
	snap, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get staging item %s: %w", id, err)
	}

	var item store.StagingItem
	if err := snap.DataTo(&item); err != nil {
		return nil, fmt.Errorf("decode staging item %s: %w", id, err)
	}
	return &item, nil
}

// ListPending implements store.StagingStore.
func (s *StagingStore) ListPending(ctx context.Context, accountKey string, limit int) ([]*store.StagingItem, error) {
	query := s.client.Collection(stagingCollection).
		Where("accountKey", "==", accountKey).
		Where("status", "==", string(store.StatusPending)).
		OrderBy("createdAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return s.collect(ctx, query)
}

// List implements store.StagingStore.
func (s *StagingStore) List(ctx context.Context, accountKey string, st store.Status) ([]*store.StagingItem, error) {
	query := s.client.Collection(stagingCollection).
		Where("accountKey", "==", accountKey)
	if st != "" {
		query = query.Where("status", "==", string(st))
	}
	return s.collect(ctx, query.OrderBy("createdAt", firestore.Asc))
}

func (s *StagingStore) collect(ctx context.Context, query firestore.Query) ([]*store.StagingItem, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var items []*store.StagingItem
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list staging items: %w", err)
		}

		var item store.StagingItem
		if err := snap.DataTo(&item); err != nil {
			return nil, fmt.Errorf("decode staging item %s: %w", snap.Ref.ID, err)
		}
		items = append(items, &item)
	}
	return items, nil
}

// SetStatus implements store.StagingStore.
func (s *StagingStore) SetStatus(ctx context.Context, id string, st store.Status, payload string) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(st)},
		{Path: "parsedPayload", Value: payload},
	}
	_, err := s.doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("set status of %s: %w", id, err)
	}
	return nil
}

// Delete implements store.StagingStore.
func (s *StagingStore) Delete(ctx context.Context, id string) error {
	if _, err := s.doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete staging item %s: %w", id, err)
	}
	return nil
}

// TriggerStore implements store.TriggerStore on Firestore using a
// transaction per acquire, giving the compare-and-set the debounce needs
// across instances.
type TriggerStore struct {
	client *firestore.Client
}

// NewTriggerStore creates a Firestore-backed trigger store.
func NewTriggerStore(client *firestore.Client) *TriggerStore {
	return &TriggerStore{client: client}
}

func triggerField(kind store.TriggerKind) string {
	if kind == store.TriggerProcess {
		return "lastAutoProcessAt"
	}
	return "lastAutoSyncAt"
}

// TryAcquire implements store.TriggerStore.
func (s *TriggerStore) TryAcquire(ctx context.Context, accountID string, kind store.TriggerKind, cooldown time.Duration, now time.Time) (bool, error) {
	ref := s.client.Collection(triggersCollection).Doc(accountID)
	acquired := false

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		if snap != nil && snap.Exists() {
			var rec store.TriggerRecord
			if err := snap.DataTo(&rec); err != nil {
				return err
			}
			last := rec.LastAutoSyncAt
			if kind == store.TriggerProcess {
				last = rec.LastAutoProcessAt
			}
			if !last.IsZero() && now.Sub(last) < cooldown {
				return nil
			}
		}

		acquired = true
		return tx.Set(ref, map[string]interface{}{
			"accountId":        accountID,
			triggerField(kind): now,
		}, firestore.MergeAll)
	})
	if err != nil {
		return false, fmt.Errorf("acquire %s trigger for %s: %w", kind, accountID, err)
	}
	return acquired, nil
}

// Reset implements store.TriggerStore.
func (s *TriggerStore) Reset(ctx context.Context, accountID string, kind store.TriggerKind, now time.Time) error {
	ref := s.client.Collection(triggersCollection).Doc(accountID)
	_, err := ref.Set(ctx, map[string]interface{}{
		"accountId":        accountID,
		triggerField(kind): now,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("reset %s trigger for %s: %w", kind, accountID, err)
	}
	return nil
}

var (
	_ store.CredentialStore = (*CredentialStore)(nil)
	_ store.CursorStore     = (*CursorStore)(nil)
	_ store.StagingStore    = (*StagingStore)(nil)
	_ store.TriggerStore    = (*TriggerStore)(nil)
)
