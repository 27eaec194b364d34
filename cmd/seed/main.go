// seed upserts the development users and prints tokens for exercising the MFA API by hand.
// Idempotent. Refuses to run when APP_ENV=production.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coresuite/backend/internal/app"
	"coresuite/backend/internal/config"
	"coresuite/backend/internal/logging"
	"coresuite/backend/internal/user/domain"
)

var devUsers = []domain.User{
	{ID: "u1", Username: "mrossi", Email: "mario.rossi@example.com", Name: "Mario Rossi"},
	{ID: "u2", Username: "lbianchi", Email: "laura.bianchi@example.com", Name: "Laura Bianchi"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("seed: refusing to run with APP_ENV=production")
	}
	logger, err := logging.New(false, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	stores, err := app.OpenStores(cfg)
	if err != nil {
		logger.Fatal("seed: open stores", zap.Error(err))
	}
	defer stores.Close()

	tokens, err := app.TokenProvider(cfg, logger)
	if err != nil {
		logger.Fatal("seed: token provider", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	for _, u := range devUsers {
		u.Status = domain.UserStatusActive
		u.CreatedAt, u.UpdatedAt = now, now
		if err := stores.Users.Upsert(ctx, &u); err != nil {
			logger.Fatal("seed: upsert user", zap.String("user_id", u.ID), zap.Error(err))
		}
		access, _, accessExp, err := tokens.IssueAccess(uuid.NewString(), u.ID)
		if err != nil {
			logger.Fatal("seed: issue access token", zap.Error(err))
		}
		pending, pendingExp, err := tokens.IssuePendingLogin(u.ID)
		if err != nil {
			logger.Fatal("seed: issue pending-login token", zap.Error(err))
		}
		fmt.Printf("user %s (%s)\n", u.ID, u.DisplayName())
		fmt.Printf("  Authorization: Bearer %s\n  (expires %s)\n", access, accessExp.Format(time.RFC3339))
		fmt.Printf("  X-Pending-Login: %s\n  (expires %s)\n", pending, pendingExp.Format(time.RFC3339))
	}
	logger.Info("seed: done", zap.Int("users", len(devUsers)))
}
