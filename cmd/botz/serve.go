package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/botzfyi/botz/internal/api"
	"github.com/botzfyi/botz/internal/auth"
	"github.com/botzfyi/botz/internal/billing"
	"github.com/botzfyi/botz/internal/config"
	"github.com/botzfyi/botz/internal/enrichment"
	"github.com/botzfyi/botz/internal/integrations"
	"github.com/botzfyi/botz/internal/leads"
	"github.com/botzfyi/botz/internal/mailer"
	"github.com/botzfyi/botz/internal/ratelimit"
	"github.com/botzfyi/botz/internal/usage"
	"github.com/botzfyi/botz/internal/webhook"
)

const (
	shutdownTimeout     = 10 * time.Second
	spoolReplayEvery    = 5 * time.Minute
	rateLimitSweepEvery = time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Botz server",
	Long:  `Starts the HTTP API, webhook receivers and background jobs.`,
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := openDatabase(ctx, cfg)
	defer db.Close()

	settingsSvc, cipher := openSettings(ctx, db, cfg)
	signingSecret := jwtSecret(ctx, cfg, settingsSvc)
	authSvc := auth.New(signingSecret, cfg.TokenTTL(), cfg.Auth.AdminUserIDs)

	// Rate limiting: Redis when configured, process memory otherwise.
	var rdb redis.Cmdable
	var primary ratelimit.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, rate limits fall back to memory until it recovers")
		}
		rdb = client
		primary = ratelimit.NewRedisStore(client)
	}
	fallback := ratelimit.NewMemoryStore(rateLimitSweepEvery)
	defer fallback.Stop()
	limiter := ratelimit.New(primary, fallback)

	enricher := enrichment.New(openGeoIP(cfg.Leads.GeoIPPath))
	defer enricher.Close()

	gate := newGate(cfg, db)

	spool, err := usage.NewSpool(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open usage spool")
	}
	recorder := usage.NewRecorder(usage.NewSQLStore(db), spool)

	mail := mailer.New(cfg.SMTP, settingsSvc)
	leadSvc := leads.NewService(leads.NewSQLStore(db), leads.Options{
		DefaultCountryCode: cfg.Leads.DefaultCountryCode,
		Enricher:           enricher,
		Notifier:           mail,
	})

	events := webhook.NewEventLog(db)
	intStore := integrations.NewSQLStore(db, cipher)
	oauthCfg := integrations.GoogleOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.PublicURL)

	router := api.NewRouter(api.Deps{
		Config:  cfg,
		DB:      db,
		Redis:   rdb,
		Auth:    authSvc,
		Gate:    gate,
		Limiter: limiter,
		Usage:   recorder,
		Leads:   leadSvc,
		Webhooks: webhook.NewHandler(webhook.Options{
			MetaSecret:  cfg.Webhooks.MetaAppSecret,
			VerifyToken: cfg.Webhooks.MetaVerifyToken,
			LeadSecret:  cfg.Webhooks.LeadSecret,
		}, leadSvc, events),
		Stripe:       billing.NewWebhookHandler(cfg.Webhooks.StripeSecret, gate, events),
		Integrations: intStore,
		Refresher:    integrations.NewRefresher(intStore, oauthCfg),
		Google:       integrations.NewConnector(oauthCfg, intStore, gate, signingSecret),
		Settings:     settingsSvc,
		Mailer:       mail,
		Enricher:     enricher,
	})

	warnUnconfigured(cfg)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("version", Version).Str("addr", cfg.ListenAddr).Str("data_dir", cfg.DataDir).Msg("Botz starting")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		replaySpool(gctx, recorder)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
	log.Info().Msg("Server stopped")
}

// openGeoIP opens the location database when the file exists.
func openGeoIP(path string) *enrichment.GeoIP {
	if _, err := os.Stat(path); err != nil {
		log.Info().Str("path", path).Msg("GeoIP database not found, location enrichment disabled")
		return nil
	}
	geo, err := enrichment.NewGeoIP(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to open GeoIP database")
		return nil
	}
	return geo
}

// replaySpool moves spooled usage events into the database at startup and
// then periodically until ctx ends.
func replaySpool(ctx context.Context, r *usage.Recorder) {
	ticker := time.NewTicker(spoolReplayEvery)
	defer ticker.Stop()
	for {
		n, err := r.Replay(ctx)
		if err != nil {
			log.Warn().Err(err).Int("replayed", n).Msg("Usage spool replay incomplete")
		} else if n > 0 {
			log.Info().Int("replayed", n).Msg("Usage spool replayed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func warnUnconfigured(cfg *config.Config) {
	if cfg.Webhooks.MetaAppSecret == "" {
		log.Warn().Msg("META_APP_SECRET not set, WhatsApp deliveries will be rejected")
	}
	if cfg.Webhooks.LeadSecret == "" {
		log.Warn().Msg("Lead webhook secret not set, lead webhooks will be rejected")
	}
	if cfg.Webhooks.StripeSecret == "" {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, Stripe events will be rejected")
	}
	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		log.Info().Msg("Google OAuth client not configured, channel connections disabled")
	}
	if len(cfg.Auth.AdminUserIDs) == 0 {
		log.Info().Msg("No admin user ids configured; only tokens with role=admin reach /api/admin")
	}
}
