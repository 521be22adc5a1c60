// Package mailer delivers missing-inspection alerts to yard supervisors
// over SMTP.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikoksr/notify"
	"github.com/nikoksr/notify/service/mail"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/timeutil"
)

// Settings reads app settings; the mailer needs app_mode.
type Settings interface {
	Setting(ctx context.Context, name, fallback string) string
}

// Directory resolves the supervisor addresses assigned to a yard.
type Directory interface {
	SupervisorEmails(ctx context.Context, yard string) ([]string, error)
}

type Config struct {
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	SenderName    string
	FallbackEmail string
	DevRecipients []string
}

type Mailer struct {
	cfg       Config
	settings  Settings
	directory Directory

	// send is swapped out in tests; the default dispatches over SMTP.
	send func(ctx context.Context, recipient, subject, body string) error
}

func New(cfg Config, settings Settings, directory Directory) *Mailer {
	m := &Mailer{cfg: cfg, settings: settings, directory: directory}
	m.send = m.sendSMTP
	return m
}

// SendInspectionAlert emails every resolved recipient individually and
// reports whether all sends succeeded. Per-recipient failures are logged
// and never abort the remaining recipients.
func (m *Mailer) SendInspectionAlert(ctx context.Context, unit, yard string, inspectionDate *time.Time) bool {
	mode := m.settings.Setting(ctx, "app_mode", "development")

	recipients, usedFallback := m.recipients(ctx, mode, yard)
	if len(recipients) == 0 {
		slog.Error("no recipients for inspection alert", "unit", unit, "yard", yard, "mode", mode)
		return false
	}

	subject := composeSubject(unit, mode, usedFallback)
	body := composeBody(unit, yard, formatInspectionDate(inspectionDate), usedFallback)

	success := true
	for _, recipient := range recipients {
		if err := m.send(ctx, recipient, subject, body); err != nil {
			slog.Error("inspection alert send failed",
				"unit", unit,
				"recipient", recipient,
				"error", err,
			)
			success = false
			continue
		}
		slog.Info("inspection alert sent", "unit", unit, "recipient", recipient)
	}
	return success
}

func (m *Mailer) recipients(ctx context.Context, mode, yard string) (emails []string, usedFallback bool) {
	if mode == "development" {
		return m.cfg.DevRecipients, false
	}

	emails, err := m.directory.SupervisorEmails(ctx, yard)
	if err != nil {
		slog.Error("supervisor email lookup failed", "yard", yard, "error", err)
	}
	if len(emails) == 0 {
		slog.Warn("no supervisor emails for yard, using fallback", "yard", yard)
		if m.cfg.FallbackEmail == "" {
			return nil, false
		}
		return []string{m.cfg.FallbackEmail}, true
	}
	return emails, false
}

// Fresh mail service per recipient: the notify mail service accumulates
// receivers across AddReceivers calls, so reuse would fan every later send
// out to earlier recipients too.
func (m *Mailer) sendSMTP(ctx context.Context, recipient, subject, body string) error {
	sender := m.cfg.SMTPUser
	if m.cfg.SenderName != "" {
		sender = fmt.Sprintf("%s <%s>", m.cfg.SenderName, m.cfg.SMTPUser)
	}
	mailSvc := mail.New(sender, fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort))
	mailSvc.AuthenticateSMTP("", m.cfg.SMTPUser, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	mailSvc.AddReceivers(recipient)

	n := notify.New()
	n.UseServices(mailSvc)
	return n.Send(ctx, subject, body)
}

func composeSubject(unit, mode string, usedFallback bool) string {
	subject := fmt.Sprintf("%s - potential missing Pre-trip Inspection (%s mode)", unit, mode)
	if usedFallback {
		subject = "Default Fallback Message: " + subject
	}
	return subject
}

func composeBody(unit, yard, inspectionDate string, usedFallback bool) string {
	body := fmt.Sprintf(
		"Warning: %s has left the %s yard with inspection time %s, but there is no Pre-Trip inspection found in the system.\n\n"+
			"Please confirm with the operator if a Trip Inspection has been completed prior to them using the vehicle on their shift.",
		unit, yard, inspectionDate,
	)
	if usedFallback {
		body += "\n\nNOTE: This email was sent to the fallback recipient because no supervisor email was found for this yard."
	}
	return body
}

func formatInspectionDate(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return timeutil.FormatPacific(*t)
}
