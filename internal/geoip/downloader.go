// Package geoip fetches the MaxMind GeoLite2 City database used for lead
// enrichment.
package geoip

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// MaxMind GeoLite2 download URL
	DefaultURL = "https://download.maxmind.com/geoip/databases/GeoLite2-City/download?suffix=tar.gz"

	// DatabaseName is the file name the database is stored under.
	DatabaseName = "GeoLite2-City.mmdb"

	// Settings keys for the MaxMind account.
	KeyAccountID  = "maxmind_account_id"
	KeyLicenseKey = "maxmind_license_key"
	KeyLastUpdate = "geoip_last_updated"
)

// ErrNotConfigured is returned when MaxMind credentials are missing.
var ErrNotConfigured = errors.New("MaxMind credentials not configured")

// Downloader handles downloading and extracting the MaxMind GeoIP database
type Downloader struct {
	AccountID  string
	LicenseKey string
	// Path is where the .mmdb file ends up.
	Path string
	URL  string

	client *http.Client
}

// Status represents the current state of the GeoIP database
type Status struct {
	Exists       bool      `json:"exists"`
	Path         string    `json:"path"`
	FileSize     int64     `json:"file_size"`
	LastModified time.Time `json:"last_modified,omitempty"`
	Configured   bool      `json:"configured"`
}

// NewDownloader creates a new Downloader instance
func NewDownloader(accountID, licenseKey, path string) *Downloader {
	return &Downloader{
		AccountID:  accountID,
		LicenseKey: licenseKey,
		Path:       path,
		URL:        DefaultURL,
		client:     &http.Client{Timeout: 5 * time.Minute},
	}
}

// Download fetches the archive and atomically replaces the database file.
func (d *Downloader) Download(ctx context.Context) error {
	if d.AccountID == "" || d.LicenseKey == "" {
		return ErrNotConfigured
	}
	dir := filepath.Dir(d.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(d.AccountID, d.LicenseKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	tmpPath, err := extractDatabase(resp.Body, dir)
	if err != nil {
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := os.Rename(tmpPath, d.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move database: %w", err)
	}
	return nil
}

// extractDatabase writes the first .mmdb entry of a tar.gz stream to a temp
// file in dir and returns its path.
func extractDatabase(r io.Reader, dir string) (string, error) {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return "", err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if header.Typeflag != tar.TypeReg || !strings.HasSuffix(header.Name, ".mmdb") {
			continue
		}

		out, err := os.CreateTemp(dir, "geoip-*.mmdb.tmp")
		if err != nil {
			return "", err
		}
		_, err = io.Copy(out, tarReader)
		closeErr := out.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(out.Name())
			return "", err
		}
		return out.Name(), nil
	}

	return "", fmt.Errorf("no .mmdb file found in archive")
}

// GetStatus returns the current status of the GeoIP database
func (d *Downloader) GetStatus() Status {
	status := Status{
		Path:       d.Path,
		Configured: d.AccountID != "" && d.LicenseKey != "",
	}
	if info, err := os.Stat(d.Path); err == nil {
		status.Exists = true
		status.FileSize = info.Size()
		status.LastModified = info.ModTime()
	}
	return status
}
