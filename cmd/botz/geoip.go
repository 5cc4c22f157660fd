package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/botzfyi/botz/internal/geoip"
	"github.com/botzfyi/botz/internal/settings"
)

var geoipCmd = &cobra.Command{
	Use:   "geoip",
	Short: "Manage GeoIP database",
	Long:  `Commands for managing the MaxMind GeoIP database used for lead enrichment.`,
}

var geoipDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the GeoIP database from MaxMind",
	Long: `Downloads the GeoLite2-City database from MaxMind.

Requires MaxMind account credentials to be configured.
You can get free credentials at: https://www.maxmind.com/en/geolite2/signup

Configure credentials via:
  - 'botz geoip configure'
  - PUT /api/admin/settings/geoip`,
	Run: runGeoIPDownload,
}

var geoipStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show GeoIP database status",
	Run:   runGeoIPStatus,
}

var geoipConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Configure MaxMind credentials",
	Run:   runGeoIPConfigure,
}

var (
	geoipAccountID  string
	geoipLicenseKey string

	stdin = bufio.NewReader(os.Stdin)
)

func init() {
	geoipConfigureCmd.Flags().StringVar(&geoipAccountID, "account-id", "", "MaxMind account id")
	geoipConfigureCmd.Flags().StringVar(&geoipLicenseKey, "license-key", "", "MaxMind license key (prompted when omitted)")

	geoipCmd.AddCommand(geoipDownloadCmd)
	geoipCmd.AddCommand(geoipStatusCmd)
	geoipCmd.AddCommand(geoipConfigureCmd)
}

func runGeoIPDownload(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	db := openDatabase(ctx, cfg)
	defer db.Close()
	svc, _ := openSettings(ctx, db, cfg)

	accountID, _ := svc.Get(ctx, geoip.KeyAccountID)
	licenseKey, _ := svc.Get(ctx, geoip.KeyLicenseKey)
	if accountID == "" || licenseKey == "" {
		log.Fatal().Msg("MaxMind credentials not configured. Run 'botz geoip configure' first.")
	}

	fmt.Println("Downloading GeoIP database from MaxMind...")
	fmt.Printf("Destination: %s\n", cfg.Leads.GeoIPPath)

	downloader := geoip.NewDownloader(accountID, licenseKey, cfg.Leads.GeoIPPath)
	if err := downloader.Download(ctx); err != nil {
		log.Fatal().Err(err).Msg("Download failed")
	}

	if err := svc.Set(ctx, geoip.KeyLastUpdate, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn().Err(err).Msg("Failed to record GeoIP update time")
	}
	fmt.Println("GeoIP database downloaded successfully! Restart the server to load it.")
}

func runGeoIPStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	db := openDatabase(ctx, cfg)
	defer db.Close()
	svc, _ := openSettings(ctx, db, cfg)

	accountID, _ := svc.Get(ctx, geoip.KeyAccountID)
	licenseKey, _ := svc.Get(ctx, geoip.KeyLicenseKey)
	lastUpdated, _ := svc.Get(ctx, geoip.KeyLastUpdate)
	status := geoip.NewDownloader(accountID, licenseKey, cfg.Leads.GeoIPPath).GetStatus()

	fmt.Println("GeoIP Database Status")
	fmt.Println("=====================")
	fmt.Printf("Path: %s\n", status.Path)

	if status.Exists {
		fmt.Printf("Status: Installed\n")
		fmt.Printf("File size: %.2f MB\n", float64(status.FileSize)/(1024*1024))
		fmt.Printf("File modified: %s\n", status.LastModified.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("Status: Not installed\n")
	}

	if lastUpdated != "" {
		fmt.Printf("Last downloaded: %s\n", lastUpdated)
	}

	if status.Configured {
		fmt.Printf("MaxMind Account: Configured (ID: %s)\n", settings.Mask(accountID))
	} else {
		fmt.Printf("MaxMind Account: Not configured\n")
	}
}

func runGeoIPConfigure(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	db := openDatabase(ctx, cfg)
	defer db.Close()
	svc, _ := openSettings(ctx, db, cfg)

	fmt.Println("MaxMind GeoIP Configuration")
	fmt.Println("===========================")

	accountID := geoipAccountID
	licenseKey := geoipLicenseKey
	if accountID == "" {
		fmt.Println("Get your free credentials at: https://www.maxmind.com/en/geolite2/signup")
		fmt.Println()
		fmt.Print("Account ID: ")
		line, _ := stdin.ReadString('\n')
		accountID = strings.TrimSpace(line)
	}
	if licenseKey == "" {
		fmt.Print("License Key: ")
		licenseKey = readSecret()
	}

	if accountID == "" || licenseKey == "" {
		log.Fatal().Msg("Both Account ID and License Key are required")
	}

	if err := svc.Set(ctx, geoip.KeyAccountID, accountID); err != nil {
		log.Fatal().Err(err).Msg("Failed to save account id")
	}
	if err := svc.Set(ctx, geoip.KeyLicenseKey, licenseKey); err != nil {
		log.Fatal().Err(err).Msg("Failed to save license key")
	}

	fmt.Println("\nCredentials saved successfully!")
	fmt.Println("Run 'botz geoip download' to download the database.")
}

// readSecret reads a line from stdin without echo when stdin is a terminal.
func readSecret() string {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}
