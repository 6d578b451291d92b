package worker

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles API traffic per host. Reads and edits are limited
// independently: edits to a host share one slow bucket.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
	editRate     rate.Limit
}

// NewLimiter creates a limiter allowing requestsPerSecond reads per host
// and one edit per editDelay
func NewLimiter(requestsPerSecond float64, burst int, editDelay time.Duration) *Limiter {
	if burst <= 0 {
		burst = 5
	}

	editRate := rate.Inf
	if editDelay > 0 {
		editRate = rate.Every(editDelay)
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  rate.Limit(requestsPerSecond),
		defaultBurst: burst,
		editRate:     editRate,
	}
}

// Wait waits for read clearance for the host of rawURL
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain, err := extractDomain(rawURL)
	if err != nil {
		return err
	}
	return l.getLimiter(domain, l.defaultRate, l.defaultBurst).Wait(ctx)
}

// WaitEdit waits for edit clearance for the host of rawURL
func (l *Limiter) WaitEdit(ctx context.Context, rawURL string) error {
	domain, err := extractDomain(rawURL)
	if err != nil {
		return err
	}
	return l.getLimiter("edit:"+domain, l.editRate, 1).Wait(ctx)
}

func (l *Limiter) getLimiter(key string, r rate.Limit, burst int) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(r, burst)
	l.limiters[key] = limiter
	return limiter
}

// SetDomainRate sets a custom read rate for a specific host, e.g. a
// private wiki that tolerates more traffic. A non-positive burst keeps the
// default burst.
func (l *Limiter) SetDomainRate(domain string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if burst <= 0 {
		burst = l.defaultBurst
	}

	l.limiters[domain] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func extractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return parsed.Host, nil
}
