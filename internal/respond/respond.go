// Package respond writes the {ok, data|error} JSON envelope used by every
// API and webhook handler.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/logging"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

// JSON writes a success envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{OK: true, Data: data})
}

// Error writes a failure envelope with the status derived from code.
func Error(w http.ResponseWriter, code errs.Code, message string) {
	write(w, code.Status(), Envelope{Error: &ErrorBody{Code: code, Message: message}})
}

// Err maps err to its code and writes it. Internal errors are logged with
// their cause and reported with the generic message.
func Err(w http.ResponseWriter, r *http.Request, err error) {
	e := errs.From(err)
	if e.Code == errs.Internal {
		l := logging.FromContext(r.Context())
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		Error(w, errs.Internal, errs.GenericMessage)
		return
	}
	Error(w, e.Code, e.Message)
}

func write(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
