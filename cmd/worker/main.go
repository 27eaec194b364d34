// Worker expires stale enrollments and challenges on SWEEP_INTERVAL and, when KAFKA_BROKERS and
// LOKI_URL are both set, relays MFA events from TELEMETRY_KAFKA_TOPIC to Loki.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coresuite/backend/internal/app"
	"coresuite/backend/internal/config"
	"coresuite/backend/internal/logging"
	mfaservice "coresuite/backend/internal/mfa/service"
	"coresuite/backend/internal/security"
	"coresuite/backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Store == config.StoreMemory {
		logger.Warn("worker: MFA_STORE=memory has nothing to sweep outside the server process")
	}
	stores, err := app.OpenStores(cfg)
	if err != nil {
		logger.Fatal("worker: open stores", zap.Error(err))
	}
	defer stores.Close()

	svc := mfaservice.NewService(stores.MFA, security.NewHasher(cfg.BcryptCost), mfaservice.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweepLoop(ctx, svc, cfg.SweepDuration(), logger)
		return nil
	})
	if brokers := cfg.TelemetryKafkaBrokersList(); len(brokers) > 0 && cfg.LokiURL != "" {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          cfg.TelemetryKafkaTopic,
			GroupID:        cfg.KafkaGroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        time.Second,
			CommitInterval: time.Second,
		})
		defer reader.Close()
		client := loki.NewClient(cfg.LokiURL, nil)
		g.Go(func() error {
			relay(ctx, reader, client, newReadBackOff(), logger)
			return nil
		})
		logger.Info("worker: relaying events to loki",
			zap.String("topic", cfg.TelemetryKafkaTopic),
			zap.String("group", cfg.KafkaGroupID),
			zap.String("loki", cfg.LokiURL))
	}

	_ = g.Wait()
	logger.Info("worker: stopped")
}

func sweepLoop(ctx context.Context, svc *mfaservice.Service, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := svc.Sweep(ctx); err != nil && ctx.Err() == nil {
			logger.Error("worker: sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// messageReader is satisfied by *kafka.Reader.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// eventPusher is satisfied by *loki.Client.
type eventPusher interface {
	PushEventJSON(ctx context.Context, raw []byte) error
}

func newReadBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

// relay pushes every message to Loki until ctx is done. Read errors back off exponentially; a successful
// read resets the delay.
func relay(ctx context.Context, reader messageReader, pusher eventPusher, bo backoff.BackOff, logger *zap.Logger) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			logger.Warn("worker: kafka read failed", zap.Error(err), zap.Duration("retry_in", wait))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		bo.Reset()
		pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := pusher.PushEventJSON(pushCtx, msg.Value); err != nil {
			logger.Warn("worker: loki push failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
		cancel()
	}
}
