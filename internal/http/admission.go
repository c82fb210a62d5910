package httpx

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const admissionSweepInterval = 5 * time.Minute

// Limiter admits keyed work within a fixed window. The orchestrator keys it two ways: a
// dispatch quota per client address, and a build lock per deployment identifier that holds
// a single slot while that deployment's worker runs.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) admission
	// Release frees key before its window ends.
	Release(ctx context.Context, key string)
	Close()
}

type admission struct {
	allowed bool
	count   int
	resetAt time.Time
}

func dispatchQuotaKey(clientAddr string) string {
	if clientAddr == "" {
		clientAddr = "unknown"
	}
	return "dispatch:" + clientAddr
}

func buildLockKey(deploymentID string) string {
	return "build:" + deploymentID
}

type slot struct {
	count   int
	resetAt time.Time
}

type memoryLimiter struct {
	mu    sync.Mutex
	slots map[string]slot
	stop  chan struct{}
	once  sync.Once
	now   func() time.Time
}

// NewMemoryLimiter returns a process-local Limiter. Build locks held here only guard one
// orchestrator replica; use the Redis limiter when running several.
func NewMemoryLimiter() Limiter {
	l := &memoryLimiter{
		slots: make(map[string]slot),
		stop:  make(chan struct{}),
		now:   time.Now,
	}
	go l.sweep()
	return l
}

func (l *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) admission {
	if limit <= 0 {
		return admission{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok || !now.Before(s.resetAt) {
		s = slot{resetAt: now.Add(window)}
	}
	if s.count >= limit {
		return admission{count: s.count, resetAt: s.resetAt}
	}
	s.count++
	l.slots[key] = s
	return admission{allowed: true, count: s.count, resetAt: s.resetAt}
}

func (l *memoryLimiter) Release(_ context.Context, key string) {
	l.mu.Lock()
	delete(l.slots, key)
	l.mu.Unlock()
}

func (l *memoryLimiter) sweep() {
	ticker := time.NewTicker(admissionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := l.now()
			l.mu.Lock()
			for key, s := range l.slots {
				if !now.Before(s.resetAt) {
					delete(l.slots, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

func (l *memoryLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// withDispatchQuota caps POST /project per client address and answers 429 beyond it.
func (r *Router) withDispatchQuota(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.opts.DispatchQuota <= 0 {
			next(w, req)
			return
		}
		a := r.limiter.Allow(req.Context(), dispatchQuotaKey(clientIP(req)), r.opts.DispatchQuota, r.opts.QuotaWindow)
		setQuotaHeaders(w, r.opts.DispatchQuota, a)
		if !a.allowed {
			r.metrics.recordRejection("dispatch_quota")
			setRetryAfter(w, a.resetAt)
			writeError(w, http.StatusTooManyRequests, "too many deployments requested, retry later")
			return
		}
		next(w, req)
	}
}

func setQuotaHeaders(w http.ResponseWriter, limit int, a admission) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(limit-a.count, 0)))
	if !a.resetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(a.resetAt.Unix(), 10))
	}
}

func setRetryAfter(w http.ResponseWriter, resetAt time.Time) {
	if resetAt.IsZero() {
		return
	}
	secs := int(time.Until(resetAt).Round(time.Second).Seconds())
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
}
