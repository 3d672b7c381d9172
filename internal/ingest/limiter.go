package ingest

import (
	"sync"

	"golang.org/x/time/rate"
)

// agentLimiters holds one token bucket per reporting agent. An agent's
// limiter is created on first use and lives for the process lifetime;
// the agent population is small enough that eviction is not needed.
type agentLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perAgent rate.Limit
	burst    int
}

func newAgentLimiters(perSecond float64, burst int) *agentLimiters {
	return &agentLimiters{
		limiters: make(map[string]*rate.Limiter),
		perAgent: rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether the agent may submit another report now
func (a *agentLimiters) Allow(agentID string) bool {
	a.mu.Lock()
	limiter, exists := a.limiters[agentID]
	if !exists {
		limiter = rate.NewLimiter(a.perAgent, a.burst)
		a.limiters[agentID] = limiter
	}
	a.mu.Unlock()

	return limiter.Allow()
}
