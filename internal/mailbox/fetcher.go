package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigneshprince/expensetracker/internal/store"
)

const (
	// transactionQuery is the fixed search filter for transaction
	// notification mail.
	transactionQuery = "label:^smartlabel_transaction"

	// ColdStartPageSize bounds the very first fetch for an account, before
	// any watermark exists.
	ColdStartPageSize = 2

	// WarmPageSize bounds fetches once a watermark exists.
	WarmPageSize = 20
)

// BodyArchiver stores the raw body of a staged message out of band. Archive
// failures are logged and never block staging.
type BodyArchiver interface {
	Archive(ctx context.Context, accountID, messageID string, body []byte) (string, error)
}

// Fetcher implements the incremental fetch / watermark protocol against a
// remote mailbox.
type Fetcher struct {
	cursors     store.CursorStore
	staging     store.StagingStore
	credentials store.CredentialStore
	archiver    BodyArchiver // optional
	log         zerolog.Logger

	coldPageSize int64
	warmPageSize int64
	now          func() time.Time
}

// NewFetcher creates a Fetcher over the given stores. archiver may be nil to
// disable raw-body archival.
func NewFetcher(cursors store.CursorStore, staging store.StagingStore, credentials store.CredentialStore, archiver BodyArchiver, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		cursors:      cursors,
		staging:      staging,
		credentials:  credentials,
		archiver:     archiver,
		log:          log,
		coldPageSize: ColdStartPageSize,
		warmPageSize: WarmPageSize,
		now:          time.Now,
	}
}

// SetPageSizes overrides the fetch window sizes. Zero or negative values keep
// the current size.
func (f *Fetcher) SetPageSizes(cold, warm int64) {
	if cold > 0 {
		f.coldPageSize = cold
	}
	if warm > 0 {
		f.warmPageSize = warm
	}
}

// FetchNew fetches transaction messages newer than the account's watermark,
// stages them as pending items, and advances the cursor. It returns the
// number of newly staged items. "No new messages" is not an error; only
// transport and auth failures are. The cursor is written strictly after all
// staging writes succeed, so a failure mid-batch re-fetches the same window
// next run and the staging upsert key absorbs the duplicates.
func (f *Fetcher) FetchNew(ctx context.Context, accountID string, client Client) (int, error) {
	cursor, err := f.cursors.Get(ctx, accountID)
	coldStart := errors.Is(err, store.ErrNotFound)
	if err != nil && !coldStart {
		return 0, fmt.Errorf("load cursor for %s: %w", accountID, err)
	}

	query := transactionQuery
	pageSize := f.coldPageSize
	if !coldStart {
		pageSize = f.warmPageSize
		query = fmt.Sprintf("%s after:%d", transactionQuery, cursor.LastMessageTimestamp/1000)
	}

	ids, err := client.ListMessageIDs(ctx, query, pageSize)
	if err != nil {
		return 0, fmt.Errorf("list messages for %s: %v: %w", accountID, err, ErrProviderFetch)
	}

	newIDs := ids
	if !coldStart {
		// The page is newest first. Everything at or after the watermark id
		// was already processed. A watermark id missing from the page means
		// older mail aged out of the result window; the whole page is then
		// treated as new, trading re-processing (absorbed by the upsert key)
		// for never missing messages silently.
		for k, id := range ids {
			if id == cursor.LastMessageID {
				newIDs = ids[:k]
				break
			}
		}
	}

	if len(newIDs) == 0 {
		if err := f.credentials.TouchLastSynced(ctx, accountID, f.now()); err != nil {
			return 0, fmt.Errorf("update lastSyncedAt for %s: %w", accountID, err)
		}
		f.log.Debug().Str("account", accountID).Msg("No new messages")
		return 0, nil
	}

	// Bodies are fetched one at a time to respect provider rate limits.
	staged := 0
	var newest *Message
	for _, id := range newIDs {
		msg, err := client.GetMessage(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("fetch message %s for %s: %v: %w", id, accountID, err, ErrProviderFetch)
		}
		if newest == nil {
			newest = msg
		}

		item := &store.StagingItem{
			ID:         msg.ID,
			Source:     store.SourceEmail,
			AccountKey: accountID,
			Sender:     msg.Sender,
			ReceivedAt: time.UnixMilli(msg.InternalDate),
			RawContent: CollectText(msg.Body),
			Status:     store.StatusPending,
			CreatedAt:  f.now(),
		}

		created, err := f.staging.Upsert(ctx, item)
		if err != nil {
			return 0, fmt.Errorf("stage message %s for %s: %w", msg.ID, accountID, err)
		}
		if !created {
			continue
		}
		staged++

		if f.archiver != nil {
			if _, err := f.archiver.Archive(ctx, accountID, msg.ID, []byte(item.RawContent)); err != nil {
				f.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Raw body archive failed")
			}
		}
	}

	// Advance the watermark to the newest processed message, never before
	// every staging write has succeeded.
	if err := f.cursors.Save(ctx, &store.SyncCursor{
		AccountID:            accountID,
		LastMessageTimestamp: newest.InternalDate,
		LastMessageID:        newest.ID,
		UpdatedAt:            f.now(),
	}); err != nil {
		return 0, fmt.Errorf("advance cursor for %s: %w", accountID, err)
	}

	if err := f.credentials.TouchLastSynced(ctx, accountID, f.now()); err != nil {
		return 0, fmt.Errorf("update lastSyncedAt for %s: %w", accountID, err)
	}

	f.log.Info().
		Str("account", accountID).
		Int("staged", staged).
		Str("newest_id", newest.ID).
		Msg("Fetch batch staged")
	return staged, nil
}
