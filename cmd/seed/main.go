// seed creates the development account for local testing.
// Idempotent: an already registered dev user is left unchanged.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"homestack-control-plane/internal/config"
	"homestack-control-plane/internal/db"
	identityservice "homestack-control-plane/internal/identity/service"
	"homestack-control-plane/internal/kv"
	"homestack-control-plane/internal/logging"
	"homestack-control-plane/internal/platform/apperr"
	"homestack-control-plane/internal/security"
	"homestack-control-plane/internal/token"
	tokenrepo "homestack-control-plane/internal/token/repository"
	userrepo "homestack-control-plane/internal/user/repository"
)

const (
	defaultEmail    = "dev@example.com"
	defaultPassword = "password123"
	seedTimeout     = 30 * time.Second
)

func main() {
	email := flag.String("email", defaultEmail, "Dev account email")
	password := flag.String("password", defaultPassword, "Dev account password")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("component", "seed").Logger()
	if cfg.Env == "production" {
		logger.Fatal().Msg("refusing to seed when APP_ENV=production")
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	defer conn.Close()

	tokens, err := security.LoadTokenProvider(security.TokenSettings{
		PrivateKey: cfg.JWTPrivateKey,
		PublicKey:  cfg.JWTPublicKey,
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("token provider")
	}
	store := kv.NewMemoryStore()
	defer store.Close()

	auth := identityservice.NewAuthService(
		userrepo.NewPostgresRepository(conn),
		tokenrepo.NewPostgresRepository(conn),
		token.NewDenylist(store, cfg.KVOpTimeout()),
		security.NewHasher(cfg.BcryptCost),
		tokens,
		cfg.PasswordMinLength,
		nil,
		logger,
	)

	u, err := auth.Register(ctx, *email, *password)
	switch {
	case apperr.Is(err, apperr.KindConflict):
		logger.Info().Str("email", *email).Msg("dev user already exists, skipping")
	case err != nil:
		logger.Fatal().Err(err).Msg("register dev user")
	default:
		logger.Info().Str("email", u.Email).Str("user_id", u.ID).Msg("dev user created")
	}
}
