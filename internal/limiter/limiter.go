// Package limiter bounds probe concurrency globally and per-M3U-account,
// and paces probe starts with a stagger delay, grounded on the teacher's
// internal/concurrency worker-pool gate and generalized to the spec's
// two-tier (global then per-account) acquire order.
package limiter

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sbeimel/streamflow-sub002/internal/metrics"
)

// ConcurrencyLimiter gates in-flight probes with a global semaphore and,
// optionally, a per-account semaphore layered on top of it. Acquire always
// takes the global slot first, then the account slot; Release always gives
// up the account slot first, then the global one - the reverse order,
// guaranteed via defer in the caller, so a release can never free an
// account slot while still holding the global one backwards.
type ConcurrencyLimiter struct {
	global *semaphore.Weighted

	mu          sync.Mutex
	perAccount  map[int]*semaphore.Weighted
	accountCaps map[int]int64

	stagger *rate.Limiter
}

// New creates a ConcurrencyLimiter. globalMax <= 0 means unbounded (a
// semaphore with effectively infinite weight). staggerEvery/staggerDelay
// configure pacing between successive Acquire calls; a zero staggerEvery
// disables pacing.
func New(globalMax int, staggerEvery int, staggerDelay time.Duration) *ConcurrencyLimiter {
	max := int64(globalMax)
	if max <= 0 {
		max = 1 << 30
	}
	l := &ConcurrencyLimiter{
		global:      semaphore.NewWeighted(max),
		perAccount:  make(map[int]*semaphore.Weighted),
		accountCaps: make(map[int]int64),
	}
	if staggerEvery > 0 && staggerDelay > 0 {
		l.stagger = rate.NewLimiter(rate.Every(staggerDelay/time.Duration(staggerEvery)), staggerEvery)
	}
	return l
}

// SetAccountLimit (re)configures accountID's concurrency cap, rebuilding
// its semaphore. A cap <= 0 removes any per-account bound (the account
// only competes for the global slot).
func (l *ConcurrencyLimiter) SetAccountLimit(accountID int, max int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if max <= 0 {
		delete(l.perAccount, accountID)
		delete(l.accountCaps, accountID)
		return
	}
	l.perAccount[accountID] = semaphore.NewWeighted(int64(max))
	l.accountCaps[accountID] = int64(max)
	metrics.IncLimiterRebuild()
}

func (l *ConcurrencyLimiter) accountSem(accountID int) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perAccount[accountID]
}

// Release is returned by Acquire and must be called exactly once to give
// back whatever slots were taken, in reverse order of acquisition.
type Release func()

// Acquire blocks until a global slot (and, if accountID has a configured
// cap, an account slot) is available, or ctx is cancelled. accountID may
// be 0 to mean "no account-level bound applies."
func (l *ConcurrencyLimiter) Acquire(ctx context.Context, accountID int) (Release, error) {
	start := time.Now()
	if l.stagger != nil {
		if err := l.stagger.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if err := l.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.IncConcurrentProbes()

	accSem := l.accountSem(accountID)
	if accSem != nil {
		if err := accSem.Acquire(ctx, 1); err != nil {
			l.global.Release(1)
			metrics.DecConcurrentProbes()
			return nil, err
		}
		metrics.IncConcurrentProbesAccount(strconv.Itoa(accountID))
	}

	metrics.ObserveLimiterAcquire(time.Since(start).Seconds())

	released := false
	return func() {
		if released {
			return
		}
		released = true
		if accSem != nil {
			accSem.Release(1)
			metrics.DecConcurrentProbesAccount(strconv.Itoa(accountID))
		}
		l.global.Release(1)
		metrics.DecConcurrentProbes()
	}, nil
}
