// Package ledger is the boundary to the permanent expense ledger. The
// pipeline only reads extraction context from it (category vocabulary,
// historical name→category pairs) and creates entries on promotion; the
// ledger's own data model and screens live outside this repository.
package ledger

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
)

const (
	categoriesCollection = "categories"
	expensesCollection   = "expenses"
)

// Sample is a historical expenseName→category pair handed to the model as
// disambiguation context.
type Sample struct {
	ExpenseName string `firestore:"expenseName"`
	Category    string `firestore:"category"`
}

// Expense is one ledger entry created from a promoted staging item.
type Expense struct {
	AccountKey      string
	Amount          decimal.Decimal
	ExpenseName     string
	Date            civil.Date
	Category        string
	Notes           string
	RefundRequired  bool
	SourceMessageID string
	CreatedAt       time.Time
}

// Service is the ledger surface the pipeline depends on.
type Service interface {
	// ListCategories returns the user's category vocabulary.
	ListCategories(ctx context.Context) ([]string, error)

	// RecentSamples returns up to limit recent name→category pairs for the
	// account.
	RecentSamples(ctx context.Context, accountKey string, limit int) ([]Sample, error)

	// CreateExpense writes a ledger entry. Promotion deletes the staging
	// copy only after this succeeds.
	CreateExpense(ctx context.Context, expense *Expense) error
}

// FirestoreService implements Service on the same Firestore project the
// staging store uses.
type FirestoreService struct {
	client *firestore.Client
}

// NewFirestoreService creates a Firestore-backed ledger service.
func NewFirestoreService(client *firestore.Client) *FirestoreService {
	return &FirestoreService{client: client}
}

// ListCategories implements Service.
func (s *FirestoreService) ListCategories(ctx context.Context) ([]string, error) {
	iter := s.client.Collection(categoriesCollection).Documents(ctx)
	defer iter.Stop()

	var names []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		if name, err := snap.DataAt("name"); err == nil {
			if s, ok := name.(string); ok && s != "" {
				names = append(names, s)
			}
		}
	}
	return names, nil
}

// RecentSamples implements Service.
func (s *FirestoreService) RecentSamples(ctx context.Context, accountKey string, limit int) ([]Sample, error) {
	iter := s.client.Collection(expensesCollection).
		Where("accountKey", "==", accountKey).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var samples []Sample
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list recent expenses for %s: %w", accountKey, err)
		}

		var sample Sample
		if err := snap.DataTo(&sample); err != nil {
			continue
		}
		if sample.ExpenseName != "" && sample.Category != "" {
			samples = append(samples, sample)
		}
	}
	return samples, nil
}

// CreateExpense implements Service. The decimal amount is stored as its
// canonical string form so no precision is lost in the document.
func (s *FirestoreService) CreateExpense(ctx context.Context, expense *Expense) error {
	createdAt := expense.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	data := map[string]interface{}{
		"accountKey":      expense.AccountKey,
		"amount":          expense.Amount.String(),
		"expenseName":     expense.ExpenseName,
		"date":            expense.Date.String(),
		"category":        expense.Category,
		"notes":           expense.Notes,
		"refundRequired":  expense.RefundRequired,
		"sourceMessageId": expense.SourceMessageID,
		"createdAt":       createdAt,
	}

	if _, err := s.client.Collection(expensesCollection).NewDoc().Create(ctx, data); err != nil {
		return fmt.Errorf("create expense for %s: %w", expense.AccountKey, err)
	}
	return nil
}

var _ Service = (*FirestoreService)(nil)
