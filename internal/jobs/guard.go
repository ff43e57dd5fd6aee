package jobs

import (
	"sync"
	"sync/atomic"
)

// IndexLock prevents concurrent jobs on one repository using atomic CAS
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking
// Returns true if acquired, false if already held
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// IsHeld reports whether the lock is currently held
func (l *IndexLock) IsHeld() bool {
	return l.state.Load() == 1
}

// RepoGuard hands out one IndexLock per repository
type RepoGuard struct {
	mu    sync.Mutex
	locks map[string]*IndexLock
}

// NewRepoGuard creates an empty guard
func NewRepoGuard() *RepoGuard {
	return &RepoGuard{locks: make(map[string]*IndexLock)}
}

// TryAcquire claims repoID for one job. It returns false while another
// job holds it.
func (g *RepoGuard) TryAcquire(repoID string) bool {
	return g.lockFor(repoID).TryAcquire()
}

// Release frees repoID for the next job
func (g *RepoGuard) Release(repoID string) {
	g.lockFor(repoID).Release()
}

// Running reports whether a job currently holds repoID
func (g *RepoGuard) Running(repoID string) bool {
	return g.lockFor(repoID).IsHeld()
}

func (g *RepoGuard) lockFor(repoID string) *IndexLock {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[repoID]
	if !ok {
		l = &IndexLock{}
		g.locks[repoID] = l
	}
	return l
}
