package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/geoip"
	"github.com/botzfyi/botz/internal/logging"
	"github.com/botzfyi/botz/internal/respond"
	"github.com/botzfyi/botz/internal/settings"
)

// GeoIPSettings represents the GeoIP configuration
type GeoIPSettings struct {
	AccountID   string `json:"account_id"`
	LicenseKey  string `json:"license_key"`
	GeoIPPath   string `json:"geoip_path"`
	Loaded      bool   `json:"loaded"`
	LastUpdated string `json:"last_updated"`
}

func (h *Handlers) downloader(r *http.Request) *geoip.Downloader {
	ctx := r.Context()
	accountID, _ := h.Settings.Get(ctx, geoip.KeyAccountID)
	licenseKey, _ := h.Settings.Get(ctx, geoip.KeyLicenseKey)

	d := geoip.NewDownloader(accountID, licenseKey, h.Config.Leads.GeoIPPath)
	if h.GeoIPURL != "" {
		d.URL = h.GeoIPURL
	}
	return d
}

// GetGeoIPSettings returns the current GeoIP settings (with masked credentials)
func (h *Handlers) GetGeoIPSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := h.Settings.Get(ctx, geoip.KeyAccountID)
	licenseKey, _ := h.Settings.Get(ctx, geoip.KeyLicenseKey)
	lastUpdated, _ := h.Settings.Get(ctx, geoip.KeyLastUpdate)

	out := GeoIPSettings{
		GeoIPPath:   h.Config.Leads.GeoIPPath,
		Loaded:      h.Enricher.HasGeoIP(),
		LastUpdated: lastUpdated,
	}
	if accountID != "" {
		out.AccountID = settings.Mask(accountID)
	}
	if licenseKey != "" {
		out.LicenseKey = settings.Mask(licenseKey)
	}
	respond.JSON(w, http.StatusOK, out)
}

// UpdateGeoIPSettings updates the MaxMind credentials
func (h *Handlers) UpdateGeoIPSettings(w http.ResponseWriter, r *http.Request) {
	var input struct {
		AccountID  *string `json:"account_id"`
		LicenseKey *string `json:"license_key"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		respond.Err(w, r, err)
		return
	}

	ctx := r.Context()
	if input.AccountID != nil {
		if err := h.Settings.Set(ctx, geoip.KeyAccountID, *input.AccountID); err != nil {
			respond.Err(w, r, err)
			return
		}
	}
	if input.LicenseKey != nil {
		if err := h.Settings.Set(ctx, geoip.KeyLicenseKey, *input.LicenseKey); err != nil {
			respond.Err(w, r, err)
			return
		}
	}
	respond.JSON(w, http.StatusOK, h.downloader(r).GetStatus())
}

// GetGeoIPStatus returns the status of the GeoIP database file
func (h *Handlers) GetGeoIPStatus(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.downloader(r).GetStatus())
}

// DownloadGeoIPDatabase fetches the database and swaps it into the running
// enricher.
func (h *Handlers) DownloadGeoIPDatabase(w http.ResponseWriter, r *http.Request) {
	d := h.downloader(r)
	if err := d.Download(r.Context()); err != nil {
		if errors.Is(err, geoip.ErrNotConfigured) {
			respond.Error(w, errs.InvalidInput, err.Error())
			return
		}
		respond.Err(w, r, err)
		return
	}

	if err := h.Settings.Set(r.Context(), geoip.KeyLastUpdate, time.Now().UTC().Format(time.RFC3339)); err != nil {
		l := logging.FromContext(r.Context())
		l.Warn().Err(err).Msg("Failed to record GeoIP update time")
	}
	if h.Enricher != nil {
		if err := h.Enricher.ReloadGeoIP(d.Path); err != nil {
			respond.Err(w, r, err)
			return
		}
	}

	respond.JSON(w, http.StatusOK, d.GetStatus())
}

// GetSettings lists every stored setting with secrets masked.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.Settings.GetAllMasked(r.Context())
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, all)
}
