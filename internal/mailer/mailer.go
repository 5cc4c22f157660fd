// Package mailer sends notification email over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/botzfyi/botz/internal/config"
	"github.com/botzfyi/botz/internal/leads"
	"github.com/botzfyi/botz/internal/metrics"
)

// Runtime setting keys that override the SMTP section of the config file.
const (
	KeyHost     = "smtp_host"
	KeyPort     = "smtp_port"
	KeyUsername = "smtp_username"
	KeyPassword = "smtp_password"
	KeyFrom     = "email_from_address"
	KeyNotifyTo = "email_notify_to"
)

// SettingKeys lists every key the mailer reads.
var SettingKeys = []string{KeyHost, KeyPort, KeyUsername, KeyPassword, KeyFrom, KeyNotifyTo}

// ErrNotConfigured is returned when no SMTP host or recipient is set.
var ErrNotConfigured = errors.New("smtp is not configured")

// Overrides supplies runtime settings.
type Overrides interface {
	GetWithDefault(ctx context.Context, key, defaultValue string) string
	GetInt(ctx context.Context, key string, defaultValue int) int
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers mail, paced to at most the configured messages per second.
type Mailer struct {
	base      config.SMTPConfig
	overrides Overrides
	limiter   *rate.Limiter
	send      sendFunc
	dial      func(ctx context.Context, addr string) error
}

func New(cfg config.SMTPConfig, overrides Overrides) *Mailer {
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Mailer{
		base:      cfg,
		overrides: overrides,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		send:      smtp.SendMail,
		dial:      dialSMTP,
	}
}

// Effective returns the SMTP settings after runtime overrides.
func (m *Mailer) Effective(ctx context.Context) config.SMTPConfig {
	cfg := m.base
	if m.overrides == nil {
		return cfg
	}
	cfg.Host = m.overrides.GetWithDefault(ctx, KeyHost, cfg.Host)
	cfg.Port = m.overrides.GetInt(ctx, KeyPort, cfg.Port)
	cfg.Username = m.overrides.GetWithDefault(ctx, KeyUsername, cfg.Username)
	cfg.Password = m.overrides.GetWithDefault(ctx, KeyPassword, cfg.Password)
	cfg.From = m.overrides.GetWithDefault(ctx, KeyFrom, cfg.From)
	cfg.NotifyTo = m.overrides.GetWithDefault(ctx, KeyNotifyTo, cfg.NotifyTo)
	return cfg
}

// Send delivers one plain-text message. It waits for the pacer and honors
// ctx while waiting.
func (m *Mailer) Send(ctx context.Context, to []string, subject, body string) error {
	cfg := m.Effective(ctx)
	if cfg.Host == "" || len(to) == 0 {
		return ErrNotConfigured
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}

	if err := m.limiter.Wait(ctx); err != nil {
		metrics.EmailsSent.WithLabelValues("throttled").Inc()
		return fmt.Errorf("mail pacing: %w", err)
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if err := m.send(addr, auth, from, to, buildMessage(from, to, subject, body)); err != nil {
		metrics.EmailsSent.WithLabelValues("failed").Inc()
		return fmt.Errorf("send mail via %s: %w", addr, err)
	}
	metrics.EmailsSent.WithLabelValues("sent").Inc()
	return nil
}

// NotifyLead mails the configured address about a new lead.
func (m *Mailer) NotifyLead(ctx context.Context, l *leads.Lead) error {
	cfg := m.Effective(ctx)
	to := splitAddresses(cfg.NotifyTo)
	if len(to) == 0 {
		return nil
	}

	subject := "New lead"
	if l.Name != "" {
		subject = "New lead: " + l.Name
	}
	if err := m.Send(ctx, to, subject, leadBody(l)); err != nil {
		return err
	}
	log.Debug().Str("lead_id", l.LeadID).Strs("to", to).Msg("Lead notification sent")
	return nil
}

// TestConnection dials the effective SMTP server.
func (m *Mailer) TestConnection(ctx context.Context) (string, error) {
	cfg := m.Effective(ctx)
	if cfg.Host == "" {
		return "", ErrNotConfigured
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if err := m.dial(ctx, addr); err != nil {
		return addr, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	return addr, nil
}

func dialSMTP(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	return client.Quit()
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

func leadBody(l *leads.Lead) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, sanitizeHeader(value))
		}
	}
	line("Name", l.Name)
	line("Email", l.Email)
	line("Phone", l.Phone)
	line("Source", l.Source)
	line("Campaign", l.UTM.Campaign)
	line("Tenant", l.TenantID)
	line("Lead", l.LeadID)

	keys := make([]string, 0, len(l.Metadata))
	for k := range l.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line(k, l.Metadata[k])
	}
	return b.String()
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
