package ratelimit

import "time"

// CategoryLimit defines the rate limit for one transaction category.
// Zero values mean no limit for that category.
type CategoryLimit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// RateLimitConfig maps categories to their limits for one requester.
// The "*" category applies to every request regardless of category.
type RateLimitConfig map[string]*CategoryLimit

// HasLimits returns true if any category has a configured limit.
func (c RateLimitConfig) HasLimits() bool {
	for _, l := range c {
		if l.active() {
			return true
		}
	}
	return false
}

func (l *CategoryLimit) active() bool {
	return l != nil && l.MaxRequests > 0 && l.Window > 0
}
