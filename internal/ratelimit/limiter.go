// Package ratelimit throttles public MFA endpoints per client key (usually the client IP).
package ratelimit

import (
	"context"
	"time"
)

// Policy is a token bucket: RPM tokens refill per minute up to Burst.
type Policy struct {
	RPM   int
	Burst int
}

// Enabled reports whether the policy limits anything. RPM 0 disables limiting.
func (p Policy) Enabled() bool {
	return p.RPM > 0
}

func (p Policy) perSecond() float64 {
	return float64(p.RPM) / 60.0
}

func (p Policy) capacity() int {
	if p.Burst < 1 {
		return 1
	}
	return p.Burst
}

// Limiter decides whether a request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// idleTTL is how long an untouched bucket is kept before it is dropped.
const idleTTL = 10 * time.Minute
