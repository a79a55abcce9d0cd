// Package portlock implements C8: distributed locking for LabBooks and the
// host-port map, plus port allocation itself, both built on one
// coordinator.Store so either backend (bolt or redis) serializes access the
// same way.
//
// The lock key is always the caller-supplied resource key, never a single
// shared constant — correcting original_source/lmcommon/labbook/lock.py's
// lock_labbook, which locked every LabBook in the process against a single
// hardcoded 'labbook_lock' key and read its strict flag from a
// config['redis']['false'] typo. Callers pass a proper config.LockConfig
// instead.
package portlock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"gitmine.dev/labbook/internal/config"
	"gitmine.dev/labbook/internal/coordinator"
	"gitmine.dev/labbook/internal/labbookerr"
	"gitmine.dev/labbook/internal/obslog"
)

const lockKeyPrefix = "lock:"

type lockRecord struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Manager acquires and releases named locks over a coordinator.Store.
// One Manager is shared by the LabBook lock and the port-map lock; they are
// distinguished only by the resource key passed to Acquire.
type Manager struct {
	store coordinator.Store
	cfg   config.LockConfig
	log   *obslog.Logger
}

// New returns a Manager bound to store and cfg.
func New(store coordinator.Store, cfg config.LockConfig, log *obslog.Logger) *Manager {
	return &Manager{store: store, cfg: cfg, log: log}
}

// Handle represents a held lock. Release must be called on every exit path,
// including error, per spec.md §5's suspension-point rule.
type Handle struct {
	mgr       *Manager
	key       string
	owner     string
	stop      chan struct{}
	lost      atomic.Bool
	released  atomic.Bool
}

// Lost reports whether AutoRenewal detected the lock had expired out from
// under its holder (only meaningful when LockConfig.Strict is set — a
// non-strict Manager never sets this).
func (h *Handle) Lost() bool { return h.lost.Load() }

// Acquire blocks until resourceKey is locked or cfg.Timeout elapses, polling
// the coordinator's SetNX. Returns a labbookerr.KindLock "AcquireTimeout" on
// timeout. Existing locks whose ExpiresAt has passed are taken over (logged
// as a warning: the previous holder may have died without releasing).
func (m *Manager) Acquire(ctx context.Context, resourceKey string) (*Handle, error) {
	key := lockKeyPrefix + resourceKey
	owner := fmt.Sprintf("%d", time.Now().UnixNano())
	deadline := time.Now().Add(m.cfg.Timeout)

	for {
		ok, err := m.tryAcquire(ctx, key, owner)
		if err != nil {
			return nil, err
		}
		if ok {
			h := &Handle{mgr: m, key: key, owner: owner, stop: make(chan struct{})}
			if m.cfg.AutoRenewal {
				go h.renewLoop()
			}
			return h, nil
		}
		if m.cfg.Timeout > 0 && time.Now().After(deadline) {
			return nil, labbookerr.New(labbookerr.KindLock, "portlock.Acquire",
				fmt.Sprintf("AcquireTimeout: %s not free after %s", resourceKey, m.cfg.Timeout), nil)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (m *Manager) tryAcquire(ctx context.Context, key, owner string) (bool, error) {
	record := lockRecord{Owner: owner, AcquiredAt: time.Now(), ExpiresAt: time.Now().Add(m.cfg.Expire)}
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}

	ok, err := m.store.SetNX(ctx, key, data)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	// Already held: see if the holder's expiry has passed, and if so, take
	// over. Racy against another waiter doing the same thing concurrently —
	// acceptable here the same way the teacher's garbage-collect calls are
	// documented best-effort rather than linearizable.
	existing, err := m.store.Get(ctx, key)
	if err != nil {
		if err == coordinator.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	var old lockRecord
	if err := json.Unmarshal(existing, &old); err != nil {
		return false, nil
	}
	if time.Now().Before(old.ExpiresAt) {
		return false, nil
	}
	m.log.Warnf("lock %q expired at %s without release, taking over", key, old.ExpiresAt)
	if err := m.store.Delete(ctx, key); err != nil {
		return false, err
	}
	ok, err = m.store.SetNX(ctx, key, data)
	return ok, err
}

func (h *Handle) renewLoop() {
	interval := h.mgr.cfg.Expire / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if err := h.renew(); err != nil {
				h.mgr.log.WithErr(err).Warnf("failed to renew lock %q", h.key)
				if h.mgr.cfg.Strict {
					h.lost.Store(true)
				}
			}
		}
	}
}

func (h *Handle) renew() error {
	record := lockRecord{Owner: h.owner, AcquiredAt: time.Now(), ExpiresAt: time.Now().Add(h.mgr.cfg.Expire)}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return h.mgr.store.Set(context.Background(), h.key, data)
}

// Release drops the lock. Idempotent: releasing twice is a no-op.
func (h *Handle) Release(ctx context.Context) error {
	if h.released.Swap(true) {
		return nil
	}
	if h.stop != nil {
		close(h.stop)
	}
	return h.mgr.store.Delete(ctx, h.key)
}
