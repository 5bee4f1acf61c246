package review

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vigneshprince/expensetracker/internal/ledger"
	"github.com/vigneshprince/expensetracker/internal/store"
	"github.com/vigneshprince/expensetracker/internal/store/inmemory"
)

// fakeLedger records created expenses and can be told to fail.
type fakeLedger struct {
	created   []*ledger.Expense
	createErr error
}

func (f *fakeLedger) ListCategories(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeLedger) RecentSamples(ctx context.Context, accountKey string, limit int) ([]ledger.Sample, error) {
	return nil, nil
}

func (f *fakeLedger) CreateExpense(ctx context.Context, expense *ledger.Expense) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, expense)
	return nil
}

// fakeProcessor records extraction runs.
type fakeProcessor struct {
	accounts []string
	err      error
}

func (f *fakeProcessor) ProcessPending(ctx context.Context, accountKey string) (int, error) {
	f.accounts = append(f.accounts, accountKey)
	return 0, f.err
}

const reviewPayload = `{"amount": 449.5, "expenseName": "Swiggy", "date": "2026-08-29", "category": "Food", "notes": "dinner", "refundRequired": true}`

func seedItem(t *testing.T, mem *inmemory.Store, status store.Status, payload string) {
	t.Helper()
	if _, err := mem.Upsert(context.Background(), &store.StagingItem{
		ID:            "m1",
		Source:        store.SourceEmail,
		AccountKey:    "user@example.com",
		RawContent:    "raw body",
		ParsedPayload: payload,
		Status:        status,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestPromote(t *testing.T) {
	mem := inmemory.NewStore()
	seedItem(t, mem, store.StatusReview, reviewPayload)

	led := &fakeLedger{}
	w := NewWorkflow(mem.Staging(), led, &fakeProcessor{}, zerolog.Nop())

	if err := w.Promote(context.Background(), "m1"); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	if len(led.created) != 1 {
		t.Fatalf("created %d expenses, want 1", len(led.created))
	}
	exp := led.created[0]
	if exp.ExpenseName != "Swiggy" || exp.Category != "Food" {
		t.Errorf("expense = %q/%q, want Swiggy/Food", exp.ExpenseName, exp.Category)
	}
	if exp.Amount.String() != "449.5" {
		t.Errorf("amount = %s, want 449.5", exp.Amount)
	}
	if !exp.RefundRequired {
		t.Error("refundRequired lost in promotion")
	}
	if exp.SourceMessageID != "m1" {
		t.Errorf("sourceMessageId = %q, want m1", exp.SourceMessageID)
	}

	if _, err := mem.GetItem(context.Background(), "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("promoted item still in staging")
	}
}

func TestPromote_WrongStatus(t *testing.T) {
	for _, status := range []store.Status{store.StatusPending, store.StatusError} {
		t.Run(string(status), func(t *testing.T) {
			mem := inmemory.NewStore()
			seedItem(t, mem, status, reviewPayload)

			led := &fakeLedger{}
			w := NewWorkflow(mem.Staging(), led, &fakeProcessor{}, zerolog.Nop())

			if err := w.Promote(context.Background(), "m1"); err == nil {
				t.Errorf("Promote() of %s item should fail", status)
			}
			if len(led.created) != 0 {
				t.Error("expense created from non-review item")
			}
		})
	}
}

func TestPromote_LedgerFailureKeepsItem(t *testing.T) {
	mem := inmemory.NewStore()
	seedItem(t, mem, store.StatusReview, reviewPayload)

	led := &fakeLedger{createErr: errors.New("backend unavailable")}
	w := NewWorkflow(mem.Staging(), led, &fakeProcessor{}, zerolog.Nop())

	if err := w.Promote(context.Background(), "m1"); err == nil {
		t.Fatal("Promote() should surface ledger failure")
	}

	item, err := mem.GetItem(context.Background(), "m1")
	if err != nil {
		t.Fatal("item deleted despite failed ledger write")
	}
	if item.Status != store.StatusReview {
		t.Errorf("status = %q, want review", item.Status)
	}
}

func TestPromote_Missing(t *testing.T) {
	mem := inmemory.NewStore()
	w := NewWorkflow(mem.Staging(), &fakeLedger{}, &fakeProcessor{}, zerolog.Nop())

	if err := w.Promote(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Promote() error = %v, want ErrNotFound", err)
	}
}

func TestRetry(t *testing.T) {
	mem := inmemory.NewStore()
	seedItem(t, mem, store.StatusError, "stale payload")

	proc := &fakeProcessor{}
	w := NewWorkflow(mem.Staging(), &fakeLedger{}, proc, zerolog.Nop())

	if err := w.Retry(context.Background(), "m1"); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}

	item, err := mem.GetItem(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != store.StatusPending {
		t.Errorf("status = %q, want pending", item.Status)
	}
	if item.ParsedPayload != "" {
		t.Errorf("payload = %q, want cleared", item.ParsedPayload)
	}
	if len(proc.accounts) != 1 || proc.accounts[0] != "user@example.com" {
		t.Errorf("processor runs = %v, want one for user@example.com", proc.accounts)
	}
}

func TestRetry_WrongStatus(t *testing.T) {
	mem := inmemory.NewStore()
	seedItem(t, mem, store.StatusReview, reviewPayload)

	w := NewWorkflow(mem.Staging(), &fakeLedger{}, &fakeProcessor{}, zerolog.Nop())
	if err := w.Retry(context.Background(), "m1"); err == nil {
		t.Error("Retry() of review item should fail")
	}
}

func TestRetry_ProcessorFailureIsNotFatal(t *testing.T) {
	mem := inmemory.NewStore()
	seedItem(t, mem, store.StatusError, "stale")

	proc := &fakeProcessor{err: errors.New("model down")}
	w := NewWorkflow(mem.Staging(), &fakeLedger{}, proc, zerolog.Nop())

	if err := w.Retry(context.Background(), "m1"); err != nil {
		t.Fatalf("Retry() error = %v, reset already stuck", err)
	}
	item, _ := mem.GetItem(context.Background(), "m1")
	if item.Status != store.StatusPending {
		t.Errorf("status = %q, want pending for next run", item.Status)
	}
}

func TestRemove(t *testing.T) {
	mem := inmemory.NewStore()
	seedItem(t, mem, store.StatusError, "")

	w := NewWorkflow(mem.Staging(), &fakeLedger{}, &fakeProcessor{}, zerolog.Nop())
	if err := w.Remove(context.Background(), "m1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := mem.GetItem(context.Background(), "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("item still present after Remove()")
	}
}
