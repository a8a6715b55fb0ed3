package otc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimits throttles Open and MarkPaid per account. Limiters are created
// lazily per address and kept for the process lifetime; the population is
// bounded by the set of active accounts.
type RateLimits struct {
	mu       sync.Mutex
	open     map[[20]byte]*rate.Limiter
	paid     map[[20]byte]*rate.Limiter
	openRate rate.Limit
	paidRate rate.Limit
}

// NewRateLimits builds per-account limiters allowing openPerMinute order
// opens and paidPerMinute payment marks, each with a burst of the same size.
// Zero disables the respective limit.
func NewRateLimits(openPerMinute, paidPerMinute int) *RateLimits {
	limits := &RateLimits{
		open: make(map[[20]byte]*rate.Limiter),
		paid: make(map[[20]byte]*rate.Limiter),
	}
	if openPerMinute > 0 {
		limits.openRate = rate.Every(time.Minute / time.Duration(openPerMinute))
	}
	if paidPerMinute > 0 {
		limits.paidRate = rate.Every(time.Minute / time.Duration(paidPerMinute))
	}
	return limits
}

// AllowOpen reports whether the account may open another order right now.
func (l *RateLimits) AllowOpen(addr [20]byte) bool {
	if l == nil || l.openRate == 0 {
		return true
	}
	return l.limiter(l.open, addr, l.openRate).Allow()
}

// AllowPaid reports whether the account may mark another order paid.
func (l *RateLimits) AllowPaid(addr [20]byte) bool {
	if l == nil || l.paidRate == 0 {
		return true
	}
	return l.limiter(l.paid, addr, l.paidRate).Allow()
}

func (l *RateLimits) limiter(pool map[[20]byte]*rate.Limiter, addr [20]byte, limit rate.Limit) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := pool[addr]
	if !ok {
		burst := int(limit * rate.Limit(60))
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(limit, burst)
		pool[addr] = limiter
	}
	return limiter
}
