package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterIdle is how long an unused client limiter is kept.
	limiterIdle = 3 * time.Minute
	// limiterSweepSize triggers a sweep of idle limiters.
	limiterSweepSize = 1024
)

type clientState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiter holds one token bucket per client IP.
type limiter struct {
	mu      sync.Mutex
	qps     rate.Limit
	burst   int
	clients map[string]*clientState
	now     func() time.Time
}

func newLimiter(qps float64, burst int) *limiter {
	return &limiter{
		qps:     rate.Limit(qps),
		burst:   max(burst, 1),
		clients: make(map[string]*clientState),
		now:     time.Now,
	}
}

func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.clients) >= limiterSweepSize {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > limiterIdle {
				delete(l.clients, k)
			}
		}
	}

	state, ok := l.clients[ip]
	if !ok {
		state = &clientState{limiter: rate.NewLimiter(l.qps, l.burst)}
		l.clients[ip] = state
	}
	state.lastSeen = now

	return state.limiter.AllowN(now, 1)
}
