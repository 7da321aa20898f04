package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SaveFunc persists one full session document under its backend reference.
type SaveFunc func(ctx context.Context, referenceID string, s *Session) error

// Autosaver coalesces rapid successive session mutations into one debounced
// write. Transaction-critical boundaries (payment, completion) call FlushNow
// to guarantee persistence before advancing past a point of no return.
//
// The autosaver is a single-writer helper: one operator device, one active
// session. Every flush bumps the document version; the backing store rejects
// stale versions.
type Autosaver struct {
	save     SaveFunc
	debounce time.Duration

	// flushMu serializes flushes end to end, so the dirty check, version
	// assignment and store write form one critical section.
	flushMu sync.Mutex

	mu      sync.Mutex
	timer   *time.Timer
	dirty   bool
	refID   string
	current *Session
	version int64
	closed  bool
}

// NewAutosaver returns an autosaver flushing via save after debounce of
// inactivity.
func NewAutosaver(save SaveFunc, debounce time.Duration) *Autosaver {
	return &Autosaver{
		save:     save,
		debounce: debounce,
	}
}

// MarkDirty records the latest session value and (re)arms the delayed flush.
// Sessions without a backend reference are held but never flushed: the first
// persisted write happens only once an order reference exists.
func (a *Autosaver) MarkDirty(referenceID string, s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	a.refID = referenceID
	a.current = s
	a.dirty = true
	if s.Version > a.version {
		a.version = s.Version
	}

	if referenceID == "" {
		return
	}

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.debounce, func() {
		if err := a.FlushNow(context.Background()); err != nil {
			log.Warn().Err(err).Str("referenceId", referenceID).Msg("Debounced session flush failed")
		}
	})
}

// FlushNow cancels any pending delayed flush and writes the current session
// synchronously. Flushes are single-flight: a caller racing an in-flight
// flush queues behind it and then either finds a clean state or flushes the
// mutation that raced in. The write carries a cloned snapshot stamped with
// the next version; the version counter advances only on success, so a
// failed flush leaves the autosaver dirty and the next flush retries at the
// same version.
func (a *Autosaver) FlushNow(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if !a.dirty || a.current == nil || a.refID == "" {
		a.mu.Unlock()
		return nil
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}

	current := a.current
	refID := a.refID
	snapshot := current.clone()
	snapshot.Version = a.version + 1
	a.mu.Unlock()

	if err := a.save(ctx, refID, snapshot); err != nil {
		return errors.Wrap(err, "flush session")
	}

	a.mu.Lock()
	a.version = snapshot.Version
	// Only clear the dirty flag if no newer mutation raced the write.
	if a.current == current {
		a.dirty = false
	}
	a.mu.Unlock()

	return nil
}

// Dirty reports whether an unflushed mutation is pending.
func (a *Autosaver) Dirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

// Close stops the delayed flush without writing. Pending state is dropped;
// callers that need durability call FlushNow first.
func (a *Autosaver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
