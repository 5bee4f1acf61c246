package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"google.golang.org/genai"

	"github.com/vigneshprince/expensetracker/internal/ledger"
	"github.com/vigneshprince/expensetracker/internal/store"
)

const (
	// DefaultBatchSize bounds how many pending items one run processes.
	DefaultBatchSize = 10

	// minContentChars is the near-empty threshold below which an item is
	// skipped without a model call and left pending.
	minContentChars = 10

	// historySampleSize is how many recent name→category pairs go into the
	// prompt as disambiguation context.
	historySampleSize = 8
)

// Generator produces raw model text for a prompt. The interface exists so
// tests can run the worker without a live model.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator implements Generator on the GenAI SDK.
type GeminiGenerator struct {
	model string
}

// NewGeminiGenerator creates a generator for the named model.
func NewGeminiGenerator(model string) *GeminiGenerator {
	return &GeminiGenerator{model: model}
}

// GenerateText implements Generator.
func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return "", fmt.Errorf("create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return rawText, nil
}

// Worker pulls pending staging items in small batches and advances them
// through the extraction state machine: pending→review on a valid payload,
// pending→error on rejection or schema mismatch. Failures are isolated per
// item; one bad message never aborts the batch.
type Worker struct {
	staging   store.StagingStore
	ledger    ledger.Service
	generator Generator
	log       zerolog.Logger
	batchSize int

	// group serializes runs per account: two concurrent triggers for the
	// same account share a single run instead of double-processing the same
	// pending items.
	group singleflight.Group
}

// NewWorker creates a Worker. batchSize <= 0 selects DefaultBatchSize.
func NewWorker(staging store.StagingStore, ledgerSvc ledger.Service, generator Generator, batchSize int, log zerolog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Worker{
		staging:   staging,
		ledger:    ledgerSvc,
		generator: generator,
		log:       log,
		batchSize: batchSize,
	}
}

// ProcessPending runs one extraction batch for the account and returns the
// number of items moved to review.
func (w *Worker) ProcessPending(ctx context.Context, accountKey string) (int, error) {
	v, err, _ := w.group.Do(accountKey, func() (interface{}, error) {
		return w.processBatch(ctx, accountKey)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (w *Worker) processBatch(ctx context.Context, accountKey string) (int, error) {
	items, err := w.staging.ListPending(ctx, accountKey, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending items for %s: %w", accountKey, err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	categories, err := w.ledger.ListCategories(ctx)
	if err != nil {
		return 0, fmt.Errorf("load category vocabulary: %w", err)
	}
	samples, err := w.ledger.RecentSamples(ctx, accountKey, historySampleSize)
	if err != nil {
		return 0, fmt.Errorf("load history samples for %s: %w", accountKey, err)
	}

	reviewed := 0
	for _, item := range items {
		if len(strings.TrimSpace(item.RawContent)) < minContentChars {
			// Not worth a model call; leave it pending.
			continue
		}

		raw, err := w.generator.GenerateText(ctx, buildPrompt(item.RawContent, categories, samples))
		if err != nil {
			// Transport-level failure: the item stays pending and gets
			// another chance on the next run.
			w.log.Warn().Err(err).Str("item", item.ID).Msg("Model call failed")
			continue
		}

		clean := CleanModelJSON(raw)
		payload, err := ParsePayload(clean)
		switch {
		case errors.Is(err, ErrModelRejected):
			w.log.Info().Str("item", item.ID).Msg("Model detected no transaction")
			w.setStatus(ctx, item.ID, store.StatusError, "")
		case err != nil:
			w.log.Warn().Err(err).Str("item", item.ID).Msg("Unparseable model output")
			w.setStatus(ctx, item.ID, store.StatusError, "")
		default:
			if w.setStatus(ctx, item.ID, store.StatusReview, clean) {
				reviewed++
			}
			w.log.Debug().
				Str("item", item.ID).
				Str("expense", payload.ExpenseName).
				Msg("Item ready for review")
		}
	}

	return reviewed, nil
}

func (w *Worker) setStatus(ctx context.Context, id string, status store.Status, payload string) bool {
	if err := w.staging.SetStatus(ctx, id, status, payload); err != nil {
		w.log.Error().Err(err).Str("item", id).Str("status", string(status)).Msg("Status update failed")
		return false
	}
	return true
}
