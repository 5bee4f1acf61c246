// Package review implements the human side of the staging pipeline:
// promoting extracted items into the ledger, retrying failed extractions,
// and discarding items.
package review

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vigneshprince/expensetracker/internal/extract"
	"github.com/vigneshprince/expensetracker/internal/ledger"
	"github.com/vigneshprince/expensetracker/internal/store"
)

// Processor re-runs extraction for an account. Satisfied by extract.Worker.
type Processor interface {
	ProcessPending(ctx context.Context, accountKey string) (int, error)
}

// Workflow exposes the review operations over the staging store and ledger.
type Workflow struct {
	staging   store.StagingStore
	ledger    ledger.Service
	processor Processor
	log       zerolog.Logger
}

// NewWorkflow creates a Workflow.
func NewWorkflow(staging store.StagingStore, ledgerSvc ledger.Service, processor Processor, log zerolog.Logger) *Workflow {
	return &Workflow{
		staging:   staging,
		ledger:    ledgerSvc,
		processor: processor,
		log:       log,
	}
}

// Promote turns a reviewed staging item into a permanent ledger entry and
// removes it from staging. The staging copy is deleted only after the ledger
// write succeeds, so a failed promotion leaves the item intact for another
// attempt.
func (w *Workflow) Promote(ctx context.Context, id string) error {
	item, err := w.staging.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load staging item %s: %w", id, err)
	}
	if item.Status != store.StatusReview {
		return fmt.Errorf("item %s is %s, only review items can be promoted", id, item.Status)
	}

	payload, err := extract.ParsePayload(item.ParsedPayload)
	if err != nil {
		return fmt.Errorf("stored payload for %s is not promotable: %w", id, err)
	}

	expense := &ledger.Expense{
		AccountKey:      item.AccountKey,
		Amount:          payload.Amount,
		ExpenseName:     payload.ExpenseName,
		Date:            payload.Date,
		Category:        payload.Category,
		Notes:           payload.Notes,
		RefundRequired:  payload.RefundRequired,
		SourceMessageID: item.ID,
	}
	if err := w.ledger.CreateExpense(ctx, expense); err != nil {
		return fmt.Errorf("promote %s to ledger: %w", id, err)
	}

	if err := w.staging.Delete(ctx, id); err != nil {
		// The ledger entry exists; the leftover staging item is a cleanup
		// problem, not a data-loss problem.
		w.log.Error().Err(err).Str("item", id).Msg("Staging cleanup after promotion failed")
		return fmt.Errorf("remove promoted item %s from staging: %w", id, err)
	}

	w.log.Info().
		Str("item", id).
		Str("account", item.AccountKey).
		Str("expense", payload.ExpenseName).
		Msg("Item promoted to ledger")
	return nil
}

// Retry moves a failed item back to pending, clears its payload, and kicks
// off an extraction run for its account.
func (w *Workflow) Retry(ctx context.Context, id string) error {
	item, err := w.staging.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load staging item %s: %w", id, err)
	}
	if item.Status != store.StatusError {
		return fmt.Errorf("item %s is %s, only error items can be retried", id, item.Status)
	}

	if err := w.staging.SetStatus(ctx, id, store.StatusPending, ""); err != nil {
		return fmt.Errorf("reset item %s to pending: %w", id, err)
	}

	if _, err := w.processor.ProcessPending(ctx, item.AccountKey); err != nil {
		// The reset stuck; the item will be picked up by the next run.
		w.log.Warn().Err(err).Str("item", id).Msg("Extraction run after retry failed")
	}
	return nil
}

// Remove discards a staging item in any state.
func (w *Workflow) Remove(ctx context.Context, id string) error {
	if err := w.staging.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove staging item %s: %w", id, err)
	}
	return nil
}
