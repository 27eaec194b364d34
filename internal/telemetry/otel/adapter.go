package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"coresuite/backend/internal/telemetry"
	"coresuite/backend/internal/telemetry/domain"
)

const instrumentationName = "coresuite.mfa"

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &logEmitter{logger: provider.Logger(instrumentationName)}
}

// recordSink is the part of otellog.Logger the emitter needs.
type recordSink interface {
	Emit(ctx context.Context, rec otellog.Record)
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type logEmitter struct {
	logger recordSink
}

// Emit converts the event to an OTel log record and emits it.
func (e *logEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(severityFor(event.Type))
	rec.SetBody(otellog.StringValue(event.Type))
	rec.AddAttributes(otellog.String("event_type", event.Type))
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.DeviceID != "" {
		rec.AddAttributes(otellog.String("device_id", event.DeviceID))
	}
	if event.ChallengeID != 0 {
		rec.AddAttributes(otellog.Int64("challenge_id", event.ChallengeID))
	}
	if event.IP != "" {
		rec.AddAttributes(otellog.String("client_ip", event.IP))
	}
	for k, v := range event.Metadata {
		rec.AddAttributes(otellog.String("mfa."+k, v))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

// PIN failures and lockouts are the events an operator alerts on.
func severityFor(eventType string) otellog.Severity {
	switch eventType {
	case "mfa.pin.locked":
		return otellog.SeverityWarn
	case "mfa.pin.failed", "mfa.challenge.denied":
		return otellog.SeverityInfo2
	default:
		return otellog.SeverityInfo
	}
}

// NewEventCounter returns an EventEmitter that increments coresuite.mfa.events by event type.
func NewEventCounter(mp metric.MeterProvider) (telemetry.EventEmitter, error) {
	if mp == nil {
		return noopEmitter{}, nil
	}
	counter, err := mp.Meter(instrumentationName).Int64Counter("coresuite.mfa.events",
		metric.WithDescription("MFA device and challenge state changes"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}
	return &counterEmitter{counter: counter}, nil
}

type counterEmitter struct {
	counter metric.Int64Counter
}

func (c *counterEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	c.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", event.Type)))
	return nil
}
