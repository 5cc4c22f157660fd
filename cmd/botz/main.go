package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/botzfyi/botz/internal/api"
	"github.com/botzfyi/botz/internal/config"
	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/logging"
	"github.com/botzfyi/botz/internal/settings"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	// Global flags
	configPath string
	dataDir    string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "botz",
	Short: "Botz - entitlements, leads and channel integrations",
	Long: `Botz is the core service of the Botz platform.

It provides:
  - Plan, trial and credit entitlements
  - Lead capture from forms, WhatsApp and webhooks
  - Stripe billing webhooks
  - Google account connections with token refresh

Get started:
  botz migrate  # Create or upgrade the database schema
  botz serve    # Start the server`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		// Default behavior: run serve command
		serveCmd.Run(cmd, args)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("botz %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	// Set version in API package for /api/version endpoint
	api.Version = Version

	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default <data>/botz.yaml)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "", "Data directory for the database, GeoIP file and usage spool")
	rootCmd.PersistentFlags().StringVarP(&listenAddr, "listen", "l", "", "Address to listen on")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(entitlementCmd)
	rootCmd.AddCommand(geoipCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the config file, applies flag overrides and
// initializes logging.
func loadConfig() *config.Config {
	// Flags win over the environment, which wins over the file.
	if dataDir != "" {
		os.Setenv("BOTZ_DATA_DIR", dataDir)
	}
	if listenAddr != "" {
		os.Setenv("BOTZ_LISTEN_ADDR", listenAddr)
	}

	path := configPath
	if path == "" {
		dir := dataDir
		if dir == "" {
			dir = os.Getenv("BOTZ_DATA_DIR")
		}
		if dir == "" {
			dir = "./data"
		}
		path = filepath.Join(dir, "botz.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level, Component: "botz"})
	return cfg
}

// openDatabase connects and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config) *database.DB {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open database")
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	return db
}

// openSettings returns the settings service with its cipher installed. The
// instance secret comes from config, or is generated and stored on first
// start.
func openSettings(ctx context.Context, db *database.DB, cfg *config.Config) (*settings.Service, *settings.Cipher) {
	svc := settings.New(db, nil)

	secret := cfg.SecretKey
	if secret == "" {
		var err error
		if secret, err = svc.Ensure(ctx, settings.KeySecretKey); err != nil {
			log.Fatal().Err(err).Msg("Failed to load instance secret")
		}
	}
	c, err := settings.NewCipher(secret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to derive settings key")
	}
	svc.SetCipher(c)
	return svc, c
}

// jwtSecret returns the configured signing secret or the stored one.
func jwtSecret(ctx context.Context, cfg *config.Config, svc *settings.Service) string {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret
	}
	secret, err := svc.Ensure(ctx, settings.KeyJWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load JWT secret")
	}
	return secret
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
