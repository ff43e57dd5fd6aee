// Package lock provides per-file mutual exclusion with TTL leases.
//
// A lease is a row in the file_locks table holding a random token and an
// expiry time. Acquisition is one conditional upsert: it creates the row,
// or replaces a row whose expiry has passed, and otherwise reports
// types.ErrLockHeld. A crashed holder therefore blocks a file for at most
// one TTL.
//
// Release and renewal only touch the row when the caller's token is still
// the holder, so a worker whose lease expired cannot free or extend a lock
// that someone else took over.
//
//	mgr := lock.New(store, lock.WithTTL(5*time.Minute))
//	err := mgr.WithLock(ctx, types.LockKey(repoID, path), func(ctx context.Context, l *lock.Lease) error {
//	    return work(ctx, l)
//	})
//	if errors.Is(err, types.ErrLockHeld) {
//	    // someone else is on it; skip this pass
//	}
package lock
