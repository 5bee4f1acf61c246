// Package trigger rate-limits the automatic pipeline triggers that fire on
// page visits. The decision state lives in the trigger store, not in process
// memory, so restarts and multiple instances cannot double-fire.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigneshprince/expensetracker/internal/store"
)

const (
	// SyncCooldown is the minimum interval between automatic mailbox syncs.
	SyncCooldown = 15 * time.Minute

	// ProcessCooldown is the minimum interval between automatic extraction
	// runs.
	ProcessCooldown = 15 * time.Second
)

// Limiter decides whether an automatic trigger may fire. Acquisition is a
// compare-and-swap on the stored timestamp, so concurrent requests inside one
// cooldown window yield exactly one winner.
type Limiter struct {
	triggers store.TriggerStore
	log      zerolog.Logger

	syncCooldown    time.Duration
	processCooldown time.Duration
	now             func() time.Time
}

// NewLimiter creates a Limiter with the default cooldowns.
func NewLimiter(triggers store.TriggerStore, log zerolog.Logger) *Limiter {
	return &Limiter{
		triggers:        triggers,
		log:             log,
		syncCooldown:    SyncCooldown,
		processCooldown: ProcessCooldown,
		now:             time.Now,
	}
}

// AllowAutoSync reports whether an automatic sync may run now for the
// account, atomically claiming the slot when it may.
func (l *Limiter) AllowAutoSync(ctx context.Context, accountKey string) (bool, error) {
	return l.allow(ctx, accountKey, store.TriggerSync, l.syncCooldown)
}

// AllowAutoProcess reports whether an automatic extraction run may start now
// for the account, atomically claiming the slot when it may.
func (l *Limiter) AllowAutoProcess(ctx context.Context, accountKey string) (bool, error) {
	return l.allow(ctx, accountKey, store.TriggerProcess, l.processCooldown)
}

func (l *Limiter) allow(ctx context.Context, accountKey string, kind store.TriggerKind, cooldown time.Duration) (bool, error) {
	acquired, err := l.triggers.TryAcquire(ctx, accountKey, kind, cooldown, l.now())
	if err != nil {
		return false, fmt.Errorf("acquire %s trigger for %s: %w", kind, accountKey, err)
	}
	if !acquired {
		l.log.Debug().
			Str("account", accountKey).
			Str("kind", string(kind)).
			Msg("Auto trigger suppressed by cooldown")
	}
	return acquired, nil
}

// ResetForManual clears both cooldowns after a manual run so the next
// automatic trigger is measured from the manual run, not from before it.
func (l *Limiter) ResetForManual(ctx context.Context, accountKey string) error {
	for _, kind := range []store.TriggerKind{store.TriggerSync, store.TriggerProcess} {
		if err := l.triggers.Reset(ctx, accountKey, kind, l.now()); err != nil {
			return fmt.Errorf("reset %s trigger for %s: %w", kind, accountKey, err)
		}
	}
	return nil
}
