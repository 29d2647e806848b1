package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lawnloop/lawnloop-platform/internal/directory"
	"github.com/lawnloop/lawnloop-platform/internal/registry"
	"github.com/lawnloop/lawnloop-platform/pkg/logging"
)

// Service emails tenant operators about events that want a human's eyes:
// brand-new leads and callers who asked for a person.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

// NewService creates a notification service. A nil email sender makes every
// notification a logged no-op.
func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, logger: logger}
}

// NewLead notifies the tenant owner about a first-contact lead.
func (s *Service) NewLead(ctx context.Context, tenant directory.Tenant, lead *registry.Lead, preview string) error {
	if s.email == nil {
		s.logger.Debug("notify: email not configured, skipping new-lead notification", "tenant_id", tenant.ID)
		return nil
	}
	if tenant.OwnerEmail == "" || lead == nil {
		return nil
	}

	name := lead.Name
	if name == "" {
		name = lead.Phone
	}
	var body strings.Builder
	fmt.Fprintf(&body, "You have a new lead for %s.\n\n", tenant.Name)
	fmt.Fprintf(&body, "Contact: %s (%s)\n", name, lead.Phone)
	if lead.Source != "" {
		fmt.Fprintf(&body, "Came in via: %s\n", lead.Source)
	}
	if preview != "" {
		fmt.Fprintf(&body, "\nFirst message:\n%s\n", truncate(preview, 500))
	}

	return s.email.Send(ctx, EmailMessage{
		To:      tenant.OwnerEmail,
		ToName:  tenant.Name,
		Subject: fmt.Sprintf("New lead: %s", name),
		Body:    body.String(),
	})
}

// Handoff notifies the tenant owner that a caller asked for a person.
func (s *Service) Handoff(ctx context.Context, tenant directory.Tenant, callerPhone, transcript string) error {
	if s.email == nil {
		s.logger.Debug("notify: email not configured, skipping handoff notification", "tenant_id", tenant.ID)
		return nil
	}
	if tenant.OwnerEmail == "" {
		return nil
	}

	var body strings.Builder
	fmt.Fprintf(&body, "A caller asked to speak with someone at %s.\n\n", tenant.Name)
	fmt.Fprintf(&body, "Caller: %s\n", callerPhone)
	if transcript != "" {
		fmt.Fprintf(&body, "\nCall so far:\n%s\n", truncate(transcript, 2000))
	}
	body.WriteString("\nPlease call them back as soon as you can.\n")

	return s.email.Send(ctx, EmailMessage{
		To:      tenant.OwnerEmail,
		ToName:  tenant.Name,
		Subject: fmt.Sprintf("Caller requested a callback: %s", callerPhone),
		Body:    body.String(),
	})
}

// truncate caps s at max runes without splitting a multi-byte character.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
