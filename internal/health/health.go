// Package health reports readiness of the MFA service's backing stores for /readyz and the gRPC
// health service.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// checkTimeout bounds a single dependency check.
const checkTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CheckFunc checks one dependency.
type CheckFunc func(ctx context.Context) error

// Checker runs named dependency checks. A Checker with no checks is always ready.
type Checker struct {
	checks map[string]CheckFunc
}

func NewChecker() *Checker {
	return &Checker{checks: make(map[string]CheckFunc)}
}

// Add registers a check under name. A nil fn is ignored.
func (c *Checker) Add(name string, fn CheckFunc) *Checker {
	if fn != nil {
		c.checks[name] = fn
	}
	return c
}

// AddPinger registers p.PingContext under name. A nil p is ignored.
func (c *Checker) AddPinger(name string, p Pinger) *Checker {
	if p == nil {
		return c
	}
	return c.Add(name, p.PingContext)
}

// Check runs every check and returns the failures by name, or nil when all pass.
func (c *Checker) Check(ctx context.Context) map[string]error {
	var failed map[string]error
	for name, fn := range c.checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := fn(checkCtx)
		cancel()
		if err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[name] = err
		}
	}
	return failed
}

// Err folds Check into a single error naming the failed dependencies in order.
func (c *Checker) Err(ctx context.Context) error {
	failed := c.Check(ctx)
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, failed[name]))
	}
	return errors.Join(errs...)
}

// Watch updates hs for service ("" is the overall server) on every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, hs *health.Server, service string, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.update(ctx, hs, service, logger)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.update(ctx, hs, service, logger)
		}
	}
}

func (c *Checker) update(ctx context.Context, hs *health.Server, service string, logger *zap.Logger) {
	if err := c.Err(ctx); err != nil {
		logger.Warn("health: not serving", zap.String("service", service), zap.Error(err))
		hs.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	hs.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
}
