package mailbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigneshprince/expensetracker/internal/store"
	"github.com/vigneshprince/expensetracker/internal/store/inmemory"
)

// fakeClient is a mock mailbox client for testing the fetch protocol.
type fakeClient struct {
	listFn func(ctx context.Context, query string, max int64) ([]string, error)
	getFn  func(ctx context.Context, id string) (*Message, error)

	lastQuery string
	lastMax   int64
}

func (c *fakeClient) ListMessageIDs(ctx context.Context, query string, max int64) ([]string, error) {
	c.lastQuery = query
	c.lastMax = max
	return c.listFn(ctx, query, max)
}

func (c *fakeClient) GetMessage(ctx context.Context, id string) (*Message, error) {
	return c.getFn(ctx, id)
}

func textMessage(id string, internalDate int64) *Message {
	return &Message{
		ID:           id,
		Sender:       "alerts@bank.test",
		InternalDate: internalDate,
		Body: &Part{
			MimeType: "text/plain",
			Data:     []byte("INR 500 debited from account ending 1234"),
		},
	}
}

func defaultGet(ctx context.Context, id string) (*Message, error) {
	return textMessage(id, 1700000000000), nil
}

func newTestFetcher(mem *inmemory.Store) *Fetcher {
	f := NewFetcher(mem.Cursors(), mem.Staging(), mem.Credentials(), nil, zerolog.Nop())
	f.now = func() time.Time { return time.Unix(1700001000, 0) }
	return f
}

func TestFetchNew_ColdStart(t *testing.T) {
	mem := inmemory.NewStore()
	f := newTestFetcher(mem)

	client := &fakeClient{
		listFn: func(ctx context.Context, query string, max int64) ([]string, error) {
			return []string{"m2", "m1"}, nil
		},
		getFn: defaultGet,
	}

	staged, err := f.FetchNew(context.Background(), "user@example.com", client)
	if err != nil {
		t.Fatalf("FetchNew() error = %v", err)
	}
	if staged != 2 {
		t.Errorf("FetchNew() staged = %d, want 2", staged)
	}
	if client.lastMax != ColdStartPageSize {
		t.Errorf("cold start page size = %d, want %d", client.lastMax, ColdStartPageSize)
	}
	if strings.Contains(client.lastQuery, "after:") {
		t.Errorf("cold start query %q should carry no time bound", client.lastQuery)
	}

	cursor, err := mem.Cursors().Get(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("cursor not written after cold start: %v", err)
	}
	if cursor.LastMessageID != "m2" {
		t.Errorf("cursor id = %q, want m2 (newest in page)", cursor.LastMessageID)
	}
}

func TestFetchNew_WarmSlicesAtWatermark(t *testing.T) {
	mem := inmemory.NewStore()
	f := newTestFetcher(mem)

	if err := mem.SaveCursor(context.Background(), &store.SyncCursor{
		AccountID:            "user@example.com",
		LastMessageTimestamp: 1699000000000,
		LastMessageID:        "m3",
	}); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{
		listFn: func(ctx context.Context, query string, max int64) ([]string, error) {
			return []string{"m5", "m4", "m3", "m2"}, nil
		},
		getFn: defaultGet,
	}

	staged, err := f.FetchNew(context.Background(), "user@example.com", client)
	if err != nil {
		t.Fatalf("FetchNew() error = %v", err)
	}
	if staged != 2 {
		t.Errorf("FetchNew() staged = %d, want 2 (only messages above watermark)", staged)
	}
	if client.lastMax != WarmPageSize {
		t.Errorf("warm page size = %d, want %d", client.lastMax, WarmPageSize)
	}
	if !strings.Contains(client.lastQuery, "after:1699000000") {
		t.Errorf("warm query %q should carry after:1699000000", client.lastQuery)
	}

	if _, err := mem.GetItem(context.Background(), "m3"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("watermark message m3 should not be re-staged")
	}
	cursor, _ := mem.Cursors().Get(context.Background(), "user@example.com")
	if cursor.LastMessageID != "m5" {
		t.Errorf("cursor id = %q, want m5", cursor.LastMessageID)
	}
}

func TestFetchNew_WatermarkMissingTreatsPageAsNew(t *testing.T) {
	mem := inmemory.NewStore()
	f := newTestFetcher(mem)

	if err := mem.SaveCursor(context.Background(), &store.SyncCursor{
		AccountID:            "user@example.com",
		LastMessageTimestamp: 1699000000000,
		LastMessageID:        "gone",
	}); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{
		listFn: func(ctx context.Context, query string, max int64) ([]string, error) {
			return []string{"m9", "m8", "m7"}, nil
		},
		getFn: defaultGet,
	}

	staged, err := f.FetchNew(context.Background(), "user@example.com", client)
	if err != nil {
		t.Fatalf("FetchNew() error = %v", err)
	}
	if staged != 3 {
		t.Errorf("FetchNew() staged = %d, want 3 (whole page when watermark aged out)", staged)
	}
}

func TestFetchNew_NoNewMessages(t *testing.T) {
	mem := inmemory.NewStore()
	f := newTestFetcher(mem)

	if err := mem.SaveCursor(context.Background(), &store.SyncCursor{
		AccountID:            "user@example.com",
		LastMessageTimestamp: 1699000000000,
		LastMessageID:        "m3",
	}); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{
		listFn: func(ctx context.Context, query string, max int64) ([]string, error) {
			return []string{"m3", "m2"}, nil
		},
		getFn: func(ctx context.Context, id string) (*Message, error) {
			t.Errorf("GetMessage(%s) should not be called when nothing is new", id)
			return nil, errors.New("unexpected")
		},
	}

	staged, err := f.FetchNew(context.Background(), "user@example.com", client)
	if err != nil {
		t.Fatalf("FetchNew() error = %v", err)
	}
	if staged != 0 {
		t.Errorf("FetchNew() staged = %d, want 0", staged)
	}

	cursor, _ := mem.Cursors().Get(context.Background(), "user@example.com")
	if cursor.LastMessageID != "m3" {
		t.Errorf("cursor id = %q, want unchanged m3", cursor.LastMessageID)
	}
	cred, err := mem.Get(context.Background(), "user@example.com")
	if err != nil || cred.LastSyncedAt.IsZero() {
		t.Errorf("lastSyncedAt should still be touched on an empty fetch")
	}
}

func TestFetchNew_DuplicateDeliveryNotCounted(t *testing.T) {
	mem := inmemory.NewStore()
	f := newTestFetcher(mem)

	if _, err := mem.Upsert(context.Background(), &store.StagingItem{
		ID:         "m4",
		AccountKey: "user@example.com",
		Status:     store.StatusReview,
	}); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{
		listFn: func(ctx context.Context, query string, max int64) ([]string, error) {
			return []string{"m5", "m4"}, nil
		},
		getFn: defaultGet,
	}

	staged, err := f.FetchNew(context.Background(), "user@example.com", client)
	if err != nil {
		t.Fatalf("FetchNew() error = %v", err)
	}
	if staged != 1 {
		t.Errorf("FetchNew() staged = %d, want 1 (m4 already staged)", staged)
	}

	item, err := mem.GetItem(context.Background(), "m4")
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != store.StatusReview {
		t.Errorf("re-delivery must not clobber status, got %q", item.Status)
	}
}

func TestFetchNew_ProviderErrorsLeaveCursorAlone(t *testing.T) {
	tests := []struct {
		name   string
		listFn func(ctx context.Context, query string, max int64) ([]string, error)
		getFn  func(ctx context.Context, id string) (*Message, error)
	}{
		{
			name: "list fails",
			listFn: func(ctx context.Context, query string, max int64) ([]string, error) {
				return nil, errors.New("quota exceeded")
			},
			getFn: defaultGet,
		},
		{
			name: "get fails mid batch",
			listFn: func(ctx context.Context, query string, max int64) ([]string, error) {
				return []string{"m5", "m4"}, nil
			},
			getFn: func(ctx context.Context, id string) (*Message, error) {
				if id == "m4" {
					return nil, errors.New("backend error")
				}
				return textMessage(id, 1700000000000), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := inmemory.NewStore()
			f := newTestFetcher(mem)

			if err := mem.SaveCursor(context.Background(), &store.SyncCursor{
				AccountID:            "user@example.com",
				LastMessageTimestamp: 1699000000000,
				LastMessageID:        "m3",
			}); err != nil {
				t.Fatal(err)
			}

			client := &fakeClient{listFn: tt.listFn, getFn: tt.getFn}
			_, err := f.FetchNew(context.Background(), "user@example.com", client)
			if !errors.Is(err, ErrProviderFetch) {
				t.Errorf("FetchNew() error = %v, want ErrProviderFetch", err)
			}

			cursor, _ := mem.Cursors().Get(context.Background(), "user@example.com")
			if cursor.LastMessageID != "m3" {
				t.Errorf("cursor advanced to %q on a failed batch", cursor.LastMessageID)
			}
		})
	}
}
