package telemetry

import (
	"context"

	"coresuite/backend/internal/telemetry/domain"
)

// EventEmitter emits MFA events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// Fanout emits every event to each non-nil emitter in order and returns the first error.
// A failing emitter does not stop the others.
type Fanout []EventEmitter

func (f Fanout) Emit(ctx context.Context, event *domain.Event) error {
	var first error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
