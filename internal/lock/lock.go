package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

const (
	// DefaultTTL is how long a lease lives without renewal
	DefaultTTL = 300 * time.Second
	// DefaultReleaseTimeout bounds the detached release call
	DefaultReleaseTimeout = 10 * time.Second
)

// Clock returns the current time
type Clock func() time.Time

// Lease is a held file lock. Token identifies this acquisition; a takeover
// after expiry issues a new token and a higher Generation.
type Lease struct {
	Key        string
	Token      string
	Generation int64
	AcquiredAt time.Time

	mu        sync.Mutex
	expiresAt time.Time
	released  atomic.Bool
}

// ExpiresAt returns the expiry last granted to this lease
func (l *Lease) ExpiresAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expiresAt
}

func (l *Lease) setExpiresAt(t time.Time) {
	l.mu.Lock()
	l.expiresAt = t
	l.mu.Unlock()
}

// Released reports whether the lock row for this lease has been deleted
func (l *Lease) Released() bool {
	return l.released.Load()
}

// MarkReleased records that the lock row was deleted by someone other than
// the Manager, such as a commit transaction.
func (l *Lease) MarkReleased() {
	l.released.Store(true)
}

// Manager hands out TTL leases on string keys backed by the store
type Manager struct {
	store          storage.Storage
	ttl            time.Duration
	renewInterval  time.Duration
	releaseTimeout time.Duration
	now            Clock
	logger         *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(c Clock) Option {
	return func(m *Manager) { m.now = c }
}

// WithTTL sets the default lease TTL
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithRenewInterval sets how often WithLock renews its lease
func WithRenewInterval(d time.Duration) Option {
	return func(m *Manager) { m.renewInterval = d }
}

// WithReleaseTimeout bounds release calls made on a detached context
func WithReleaseTimeout(d time.Duration) Option {
	return func(m *Manager) { m.releaseTimeout = d }
}

// WithLogger sets the logger used by the renewal loop
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a lock manager on top of store
func New(store storage.Storage, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		ttl:            DefaultTTL,
		releaseTimeout: DefaultReleaseTimeout,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.renewInterval <= 0 {
		m.renewInterval = m.ttl / 3
	}
	return m
}

// Now returns the manager's clock reading
func (m *Manager) Now() time.Time {
	return m.now()
}

// TTL returns the default lease TTL
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire takes the lock for key, or takes over an expired one. It returns
// types.ErrLockHeld while another holder's lease is unexpired. A ttl of
// zero uses the manager default.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.now()
	row := &storage.Lock{
		Key:         key,
		HolderToken: uuid.NewString(),
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}

	ok, err := m.store.AcquireLock(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w: %w", key, types.ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, types.ErrLockHeld)
	}

	lease := &Lease{
		Key:        key,
		Token:      row.HolderToken,
		Generation: row.Generation,
		AcquiredAt: now,
	}
	lease.setExpiresAt(row.ExpiresAt)
	return lease, nil
}

// Release deletes the lock if lease still holds it. It returns
// types.ErrLockNotOwned when the lock was taken over after expiry. A lease
// that is already released is a no-op.
func (m *Manager) Release(ctx context.Context, lease *Lease) error {
	if lease.Released() {
		return nil
	}
	ok, err := m.store.ReleaseLock(ctx, lease.Key, lease.Token)
	if err != nil {
		return fmt.Errorf("release %s: %w: %w", lease.Key, types.ErrStorage, err)
	}
	lease.MarkReleased()
	if !ok {
		return fmt.Errorf("%s: %w", lease.Key, types.ErrLockNotOwned)
	}
	return nil
}

// Renew extends the lease by ttl from now. It returns types.ErrLockExpired
// when the lease already lapsed or was taken over.
func (m *Manager) Renew(ctx context.Context, lease *Lease, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	if lease.Released() {
		return fmt.Errorf("%s: %w", lease.Key, types.ErrLockExpired)
	}
	now := m.now()
	expiresAt := now.Add(ttl)
	ok, err := m.store.RenewLock(ctx, lease.Key, lease.Token, now, expiresAt)
	if err != nil {
		return fmt.Errorf("renew %s: %w: %w", lease.Key, types.ErrStorage, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", lease.Key, types.ErrLockExpired)
	}
	lease.setExpiresAt(expiresAt)
	return nil
}

// WithLock acquires key, runs fn while renewing the lease in the
// background, and releases the lock on every exit path including panics.
// If renewal fails fn's context is cancelled with cause
// types.ErrLockExpired. Release runs on a context detached from ctx so
// that a cancelled caller still frees the lock.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(ctx context.Context, lease *Lease) error) (err error) {
	lease, err := m.Acquire(ctx, key, 0)
	if err != nil {
		return err
	}

	fnCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.keepAlive(fnCtx, lease, stop, cancel)
	}()

	defer func() {
		close(stop)
		<-done
		lost := errors.Is(context.Cause(fnCtx), types.ErrLockExpired)
		cancel(nil)

		relErr := m.releaseDetached(ctx, lease)
		switch {
		case err != nil:
			if lost && !errors.Is(err, types.ErrLockExpired) {
				err = fmt.Errorf("%w: %w", types.ErrLockExpired, err)
			}
		case relErr != nil:
			err = relErr
		}
	}()

	return fn(fnCtx, lease)
}

// Release on a context that survives caller cancellation
func (m *Manager) releaseDetached(ctx context.Context, lease *Lease) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.releaseTimeout)
	defer cancel()
	return m.Release(rctx, lease)
}

func (m *Manager) keepAlive(ctx context.Context, lease *Lease, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(m.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if lease.Released() {
			return
		}
		err := m.Renew(ctx, lease, 0)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrLockExpired):
			m.logger.Warn("lease lost",
				slog.String("key", lease.Key),
				slog.Int64("generation", lease.Generation))
			cancel(err)
			return
		case ctx.Err() != nil:
			return
		default:
			// The lease is still valid until its expiry; try again next tick
			m.logger.Warn("lease renewal failed",
				slog.String("key", lease.Key),
				slog.String("error", err.Error()))
		}
	}
}
