package store

import "time"

// Source identifies which ingestion path produced a staging item.
type Source string

const (
	SourceEmail Source = "email"
	SourceSMS   Source = "sms"
)

// Status is the lifecycle state of a staging item.
//
// pending -(extract ok)-> review -(promote ok)-> deleted
// pending -(extract null / parse fail)-> error -(retry)-> pending
// any state -(manual delete)-> deleted
type Status string

const (
	StatusPending  Status = "pending"
	StatusReview   Status = "review"
	StatusError    Status = "error"
	StatusRejected Status = "rejected"
)

// Credential holds the long-lived refresh credential for an account. Created
// on first consent grant, merged on re-consent, never deleted automatically.
type Credential struct {
	AccountID    string    `firestore:"accountId" json:"accountId"`
	RefreshToken string    `firestore:"refreshToken" json:"-"`
	LastSyncedAt time.Time `firestore:"lastSyncedAt" json:"lastSyncedAt"`
}

// SyncCursor is the per-account watermark: the timestamp and id of the most
// recently processed message. LastMessageTimestamp is epoch milliseconds and
// monotonically non-decreasing; the cursor is written only after a fetch
// batch is fully staged.
type SyncCursor struct {
	AccountID            string    `firestore:"accountId" json:"accountId"`
	LastMessageTimestamp int64     `firestore:"lastMessageTimestamp" json:"lastMessageTimestamp"`
	LastMessageID        string    `firestore:"lastMessageId" json:"lastMessageId"`
	UpdatedAt            time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// StagingItem is a candidate transaction awaiting extraction and review.
// ID doubles as the dedup key: it is the source message id, and at most one
// staging item exists per id regardless of how many times it is fetched.
type StagingItem struct {
	ID            string    `firestore:"id" json:"id"`
	Source        Source    `firestore:"source" json:"source"`
	AccountKey    string    `firestore:"accountKey" json:"accountKey"`
	Sender        string    `firestore:"sender,omitempty" json:"sender,omitempty"`
	ReceivedAt    time.Time `firestore:"receivedAt" json:"receivedAt"`
	RawContent    string    `firestore:"rawContent" json:"rawContent"`
	ParsedPayload string    `firestore:"parsedPayload,omitempty" json:"parsedPayload,omitempty"`
	Status        Status    `firestore:"status" json:"status"`
	CreatedAt     time.Time `firestore:"createdAt" json:"createdAt"`
}

// TriggerKind distinguishes the two automatic-trigger cooldowns.
type TriggerKind string

const (
	TriggerSync    TriggerKind = "sync"
	TriggerProcess TriggerKind = "process"
)

// TriggerRecord holds the per-account "last automatic attempt" timestamps.
// Durable so the cooldowns hold across sessions and instances.
type TriggerRecord struct {
	AccountID         string    `firestore:"accountId" json:"accountId"`
	LastAutoSyncAt    time.Time `firestore:"lastAutoSyncAt" json:"lastAutoSyncAt"`
	LastAutoProcessAt time.Time `firestore:"lastAutoProcessAt" json:"lastAutoProcessAt"`
}
