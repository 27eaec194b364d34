// Package producer publishes MFA events to a message broker (Kafka) for downstream consumers such as cmd/worker.
package producer

import (
	"context"

	"coresuite/backend/internal/telemetry/domain"
)

// Producer emits MFA events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *domain.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
