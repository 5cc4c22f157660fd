package api

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/mailer"
	"github.com/botzfyi/botz/internal/respond"
	"github.com/botzfyi/botz/internal/settings"
)

// EmailSettings represents the email configuration
type EmailSettings struct {
	SMTPHost    string `json:"smtp_host"`
	SMTPPort    int    `json:"smtp_port"`
	SMTPUser    string `json:"smtp_username"`
	SMTPPass    string `json:"smtp_password"`
	FromAddress string `json:"email_from_address"`
	NotifyTo    string `json:"email_notify_to"`
}

// GetEmailSettings returns the effective email settings (with masked credentials)
func (h *Handlers) GetEmailSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	base := h.Config.SMTP

	maskedPass := ""
	if pass := h.Settings.GetWithDefault(ctx, mailer.KeyPassword, base.Password); pass != "" {
		maskedPass = settings.Mask(pass)
	}

	respond.JSON(w, http.StatusOK, EmailSettings{
		SMTPHost:    h.Settings.GetWithDefault(ctx, mailer.KeyHost, base.Host),
		SMTPPort:    h.Settings.GetInt(ctx, mailer.KeyPort, base.Port),
		SMTPUser:    h.Settings.GetWithDefault(ctx, mailer.KeyUsername, base.Username),
		SMTPPass:    maskedPass,
		FromAddress: h.Settings.GetWithDefault(ctx, mailer.KeyFrom, base.From),
		NotifyTo:    h.Settings.GetWithDefault(ctx, mailer.KeyNotifyTo, base.NotifyTo),
	})
}

// UpdateEmailSettings stores runtime overrides. Unknown keys are rejected.
func (h *Handlers) UpdateEmailSettings(w http.ResponseWriter, r *http.Request) {
	var input map[string]any
	if err := decodeJSON(w, r, &input); err != nil {
		respond.Err(w, r, err)
		return
	}

	for key := range input {
		if !slices.Contains(mailer.SettingKeys, key) {
			respond.Error(w, errs.InvalidInput, fmt.Sprintf("unknown email setting %q", key))
			return
		}
	}

	updated := 0
	for key, val := range input {
		var strVal string
		switch v := val.(type) {
		case string:
			strVal = v
		case float64:
			strVal = strconv.Itoa(int(v))
		case nil:
		default:
			strVal = fmt.Sprintf("%v", v)
		}

		if key == mailer.KeyPort && strVal != "" {
			if port, err := strconv.Atoi(strVal); err != nil || port <= 0 || port > 65535 {
				respond.Error(w, errs.InvalidInput, "smtp_port must be a valid port")
				return
			}
		}

		var err error
		if strVal == "" {
			err = h.Settings.Delete(r.Context(), key)
		} else {
			err = h.Settings.Set(r.Context(), key, strVal)
		}
		if err != nil {
			respond.Err(w, r, err)
			return
		}
		updated++
	}

	respond.JSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// TestEmailSettings tests the email configuration by attempting a connection
func (h *Handlers) TestEmailSettings(w http.ResponseWriter, r *http.Request) {
	if h.Mailer == nil {
		respond.JSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "Email is disabled",
		})
		return
	}

	addr, err := h.Mailer.TestConnection(r.Context())
	if err != nil {
		respond.JSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": fmt.Sprintf("Failed to connect to SMTP server: %s", err.Error()),
		})
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Successfully connected to %s", addr),
	})
}
