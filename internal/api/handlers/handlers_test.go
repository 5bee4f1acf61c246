package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/vigneshprince/expensetracker/internal/extract"
	"github.com/vigneshprince/expensetracker/internal/ledger"
	"github.com/vigneshprince/expensetracker/internal/mailbox"
	"github.com/vigneshprince/expensetracker/internal/review"
	"github.com/vigneshprince/expensetracker/internal/store"
	"github.com/vigneshprince/expensetracker/internal/store/inmemory"
	"github.com/vigneshprince/expensetracker/internal/trigger"
)

// fakeLedger implements ledger.Service for handler tests.
type fakeLedger struct {
	created []*ledger.Expense
}

func (f *fakeLedger) ListCategories(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeLedger) RecentSamples(ctx context.Context, accountKey string, limit int) ([]ledger.Sample, error) {
	return nil, nil
}

func (f *fakeLedger) CreateExpense(ctx context.Context, expense *ledger.Expense) error {
	f.created = append(f.created, expense)
	return nil
}

// fakeGenerator always returns the same model output.
type fakeGenerator struct {
	out string
	err error
}

func (g *fakeGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.out, g.err
}

type testEnv struct {
	mem    *inmemory.Store
	ledger *fakeLedger
	router *chi.Mux
}

func newTestEnv(t *testing.T, modelOut string) *testEnv {
	t.Helper()

	mem := inmemory.NewStore()
	led := &fakeLedger{}
	log := zerolog.Nop()

	auth := mailbox.NewAuthenticator("client-id", "client-secret", "http://localhost/cb", mem.Credentials(), log)
	fetcher := mailbox.NewFetcher(mem.Cursors(), mem.Staging(), mem.Credentials(), nil, log)
	worker := extract.NewWorker(mem.Staging(), led, &fakeGenerator{out: modelOut}, 10, log)
	limiter := trigger.NewLimiter(mem.Triggers(), log)
	workflow := review.NewWorkflow(mem.Staging(), led, worker, log)

	authHandler := NewAuthHandler(auth, log)
	pipelineHandler := NewPipelineHandler(auth, fetcher, worker, limiter, log)
	stagingHandler := NewStagingHandler(mem.Staging(), workflow, log)

	r := chi.NewRouter()
	r.Get("/api/auth/url", authHandler.AuthURL)
	r.Post("/api/sync", pipelineHandler.Sync)
	r.Post("/api/process", pipelineHandler.Process)
	r.Route("/api/staging", func(r chi.Router) {
		r.Get("/", stagingHandler.List)
		r.Post("/{id}/promote", stagingHandler.Promote)
		r.Post("/{id}/retry", stagingHandler.Retry)
		r.Delete("/{id}", stagingHandler.Delete)
	})

	return &testEnv{mem: mem, ledger: led, router: r}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

const handlerPayload = `{"amount": 120, "expenseName": "Metro", "date": "2026-08-30", "category": "Transport", "notes": "", "refundRequired": false}`

func TestAuthURL(t *testing.T) {
	env := newTestEnv(t, "null")

	rec := env.do(http.MethodGet, "/api/auth/url", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "client-id") || !strings.Contains(body, "access_type=offline") {
		t.Errorf("auth url %s should carry client id and offline access", body)
	}
}

func TestSync_UnconnectedAccount(t *testing.T) {
	env := newTestEnv(t, "null")

	rec := env.do(http.MethodPost, "/api/sync", `{"account": "user@example.com"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for account without credentials", rec.Code)
	}
}

func TestSync_MissingAccount(t *testing.T) {
	env := newTestEnv(t, "null")

	rec := env.do(http.MethodPost, "/api/sync", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcess_MovesItemToReview(t *testing.T) {
	env := newTestEnv(t, handlerPayload)
	seedStaging(t, env.mem, "m1", store.StatusPending)

	rec := env.do(http.MethodPost, "/api/process", `{"account": "user@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"processed":1`) {
		t.Errorf("body = %s, want processed:1", rec.Body.String())
	}

	item, err := env.mem.GetItem(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != store.StatusReview {
		t.Errorf("status = %q, want review", item.Status)
	}
}

func TestProcess_AutoCooldown(t *testing.T) {
	env := newTestEnv(t, "null")

	rec := env.do(http.MethodPost, "/api/process", `{"account": "user@example.com", "auto": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"skipped":true`) {
		t.Fatalf("first auto call skipped: %s", rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/api/process", `{"account": "user@example.com", "auto": true}`)
	if !strings.Contains(rec.Body.String(), `"skipped":true`) {
		t.Errorf("second auto call inside cooldown not skipped: %s", rec.Body.String())
	}

	// Manual calls are never debounced.
	rec = env.do(http.MethodPost, "/api/process", `{"account": "user@example.com"}`)
	if strings.Contains(rec.Body.String(), `"skipped":true`) {
		t.Errorf("manual call skipped: %s", rec.Body.String())
	}
}

func TestStagingList(t *testing.T) {
	env := newTestEnv(t, "null")
	seedStaging(t, env.mem, "m1", store.StatusPending)
	seedStaging(t, env.mem, "m2", store.StatusReview)

	rec := env.do(http.MethodGet, "/api/staging?account=user@example.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"count":2`) {
		t.Errorf("body = %s, want count:2", rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/api/staging?account=user@example.com&status=review", "")
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("filtered body = %s, want count:1", rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/api/staging", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status without account = %d, want 400", rec.Code)
	}
}

func TestStagingPromote(t *testing.T) {
	env := newTestEnv(t, "null")
	seedStagingWithPayload(t, env.mem, "m1", store.StatusReview, handlerPayload)

	rec := env.do(http.MethodPost, "/api/staging/m1/promote", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(env.ledger.created) != 1 {
		t.Fatalf("created %d expenses, want 1", len(env.ledger.created))
	}
	if _, err := env.mem.GetItem(context.Background(), "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("promoted item still staged")
	}
}

func TestStagingPromote_NotFound(t *testing.T) {
	env := newTestEnv(t, "null")

	rec := env.do(http.MethodPost, "/api/staging/ghost/promote", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStagingRetry(t *testing.T) {
	env := newTestEnv(t, handlerPayload)
	seedStagingWithPayload(t, env.mem, "m1", store.StatusError, "")

	rec := env.do(http.MethodPost, "/api/staging/m1/retry", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	// Retry resets to pending and immediately re-runs extraction, which with
	// a valid model response lands the item in review.
	item, err := env.mem.GetItem(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != store.StatusReview {
		t.Errorf("status = %q, want review after retried extraction", item.Status)
	}
}

func TestStagingDelete(t *testing.T) {
	env := newTestEnv(t, "null")
	seedStaging(t, env.mem, "m1", store.StatusError)

	rec := env.do(http.MethodDelete, "/api/staging/m1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if _, err := env.mem.GetItem(context.Background(), "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("item still present after delete")
	}
}

func seedStaging(t *testing.T, mem *inmemory.Store, id string, status store.Status) {
	t.Helper()
	seedStagingWithPayload(t, mem, id, status, "")
}

func seedStagingWithPayload(t *testing.T, mem *inmemory.Store, id string, status store.Status, payload string) {
	t.Helper()
	if _, err := mem.Upsert(context.Background(), &store.StagingItem{
		ID:            id,
		Source:        store.SourceEmail,
		AccountKey:    "user@example.com",
		RawContent:    "INR 120 debited for metro card recharge",
		ParsedPayload: payload,
		Status:        status,
	}); err != nil {
		t.Fatal(err)
	}
}
