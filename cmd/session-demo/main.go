// Command session-demo walks the SDK through a full session lifecycle against
// a running stub backend: password login, an authenticated profile fetch, an
// org switch, and logout. Start cmd/stub-backend first, or point HUDDLE_API_URL
// at a real backend.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle-go/auth"
	"github.com/huddleapp/huddle-go/client"
	"github.com/huddleapp/huddle-go/config"
	"github.com/huddleapp/huddle-go/storage"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	store := storage.NewSQLiteStore(cfg.Store.Path, logger)

	api := client.New(client.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Store:   store,
		Logger:  logger,
		OnSessionExpired: func() {
			logger.Warn("session expired, sign in again")
		},
		OnOrgSwitch: func(orgID uuid.UUID) {
			logger.Info("active org changed", zap.String("org_id", orgID.String()))
		},
	})
	svc := auth.NewService(api, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	email := envOrDefault("HUDDLE_DEMO_EMAIL", "alice@example.com")
	password := envOrDefault("HUDDLE_DEMO_PASSWORD", "s3cret!pass")

	sess, err := svc.LoginWithPassword(ctx, auth.LoginRequest{Identifier: email, Password: password})
	if err != nil {
		logger.Fatal("login failed", zap.Error(err))
	}
	logger.Info("logged in",
		zap.String("user", sess.User.Email),
		zap.Int("memberships", len(sess.User.Memberships)))

	user, err := svc.Me(ctx)
	if err != nil {
		logger.Fatal("profile fetch failed", zap.Error(err))
	}
	if cur := user.CurrentMembership(); cur != nil {
		logger.Info("current org",
			zap.String("org", cur.OrgName),
			zap.String("role", string(cur.Role)))
	}

	// Switch to the first org that is not the current one, if any.
	for _, m := range user.Memberships {
		if user.CurrentOrgID != nil && m.OrgID == *user.CurrentOrgID {
			continue
		}
		switched, err := svc.SwitchOrg(ctx, m.OrgID)
		if err != nil {
			logger.Fatal("org switch failed", zap.Error(err))
		}
		logger.Info("switched org", zap.String("org", m.OrgName),
			zap.String("user", switched.User.Email))
		break
	}

	if err := svc.Logout(ctx); err != nil {
		logger.Warn("server-side logout failed, local session cleared anyway", zap.Error(err))
	} else {
		logger.Info("logged out")
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Log.Format == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
