package githubapi

import (
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultFloor is the remaining-call count below which fetching pauses
	// until the quota window resets.
	DefaultFloor = 100

	// DefaultHourlyQuota seeds the fallback token bucket when the upstream
	// has not yet reported quota metadata (authenticated REST quota).
	DefaultHourlyQuota = 5000
)

// Decision is the outcome of a budget check. When Proceed is false the
// caller must wait RetryAfter before asking again; busy-looping on
// TryAcquire is a caller bug.
type Decision struct {
	Proceed    bool
	RetryAfter time.Duration
}

// Governor tracks the remaining API call budget against the upstream's
// sliding reset window. One Governor is shared by every fetcher using the
// same credential, since they share one quota; all state is mutex-guarded.
//
// Until the first response metadata is observed, decisions come from a
// local token bucket seeded with the documented hourly quota.
type Governor struct {
	mu        sync.Mutex
	floor     int
	remaining int
	limit     int
	resetAt   time.Time
	seeded    bool
	bucket    *rate.Limiter
	logger    *logrus.Logger

	now func() time.Time
}

// NewGovernor creates a governor with the given remaining-call floor and
// fallback hourly quota. Zero values select the defaults.
func NewGovernor(floor, hourlyQuota int, logger *logrus.Logger) *Governor {
	if floor <= 0 {
		floor = DefaultFloor
	}
	if hourlyQuota <= 0 {
		hourlyQuota = DefaultHourlyQuota
	}

	return &Governor{
		floor:  floor,
		bucket: rate.NewLimiter(rate.Limit(float64(hourlyQuota)/3600.0), 10),
		logger: logger,
		now:    time.Now,
	}
}

// TryAcquire reports whether one more upstream call fits in the budget.
func (g *Governor) TryAcquire() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if !g.seeded {
		if g.bucket.Allow() {
			return Decision{Proceed: true}
		}
		r := g.bucket.Reserve()
		wait := r.Delay()
		r.Cancel()
		return Decision{Proceed: false, RetryAfter: wait}
	}

	// Window rolled over; the next observed response will refresh the
	// numbers, assume a full budget until then.
	if !g.resetAt.IsZero() && now.After(g.resetAt) {
		g.remaining = g.limit
	}

	if g.remaining <= g.floor {
		wait := g.resetAt.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return Decision{Proceed: false, RetryAfter: wait}
	}

	// Provisional decrement, corrected by the next Observe.
	g.remaining--
	return Decision{Proceed: true}
}

// Observe refreshes the budget from response metadata.
func (g *Governor) Observe(remaining, limit int, resetAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seeded = true
	g.remaining = remaining
	g.limit = limit
	g.resetAt = resetAt

	if remaining <= g.floor && g.logger != nil {
		g.logger.WithFields(logrus.Fields{
			"remaining": remaining,
			"limit":     limit,
			"reset_at":  resetAt,
		}).Warn("rate budget low")
	}
}

// ObserveResponse extracts quota metadata from a GitHub API response.
func (g *Governor) ObserveResponse(resp *github.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	g.Observe(resp.Rate.Remaining, resp.Rate.Limit, resp.Rate.Reset.Time)
}

// ObserveRateLimited records an explicit rate-limited signal from the
// upstream: remaining is treated as zero and RetryAfter recomputed from
// the signaled reset instant, overriding any local estimate.
func (g *Governor) ObserveRateLimited(resetAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seeded = true
	g.remaining = 0
	g.resetAt = resetAt
	if g.limit == 0 {
		g.limit = DefaultHourlyQuota
	}

	if g.logger != nil {
		g.logger.WithField("reset_at", resetAt).Warn("upstream reported rate limited")
	}
}

// Remaining returns the tracked remaining budget, for status reporting.
func (g *Governor) Remaining() (int, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining, g.resetAt
}
