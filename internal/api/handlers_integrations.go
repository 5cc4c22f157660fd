package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/botzfyi/botz/internal/auth"
	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/integrations"
	"github.com/botzfyi/botz/internal/respond"
)

// ListIntegrations returns the caller's connected channels. Credentials are
// never serialized.
func (h *Handlers) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	list, err := h.Integrations.ListByUser(r.Context(), auth.UserID(r))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if list == nil {
		list = []*integrations.Integration{}
	}
	respond.JSON(w, http.StatusOK, list)
}

// GoogleStart returns the consent URL. ?redirect=1 sends the browser there
// directly.
func (h *Handlers) GoogleStart(w http.ResponseWriter, r *http.Request) {
	url, err := h.Google.Start(r.Context(), auth.UserID(r), h.tenantOf(r))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if r.URL.Query().Get("redirect") == "1" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"url": url})
}

// GoogleCallback completes the consent flow. It is authenticated by the
// signed state parameter rather than a Bearer token.
func (h *Handlers) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		respond.Error(w, errs.InvalidInput, "authorization denied: "+reason)
		return
	}
	in, err := h.Google.Callback(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, in)
}

// IntegrationToken returns a usable access token for one of the caller's
// integrations, refreshing it when it is about to expire.
func (h *Handlers) IntegrationToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, err := h.Integrations.Get(r.Context(), id)
	if err != nil {
		respond.Err(w, r, notFound(err, "integration not found"))
		return
	}
	if in.UserID != auth.UserID(r) {
		respond.Error(w, errs.NotFound, "integration not found")
		return
	}

	token, err := h.Refresher.AccessToken(r.Context(), id)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{
		"integration_id": id,
		"access_token":   token,
	})
}
