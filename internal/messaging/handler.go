package messaging

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lawnloop/lawnloop-platform/internal/directory"
	"github.com/lawnloop/lawnloop-platform/internal/events"
	"github.com/lawnloop/lawnloop-platform/internal/policy"
	"github.com/lawnloop/lawnloop-platform/internal/registry"
	"github.com/lawnloop/lawnloop-platform/internal/reply"
	"github.com/lawnloop/lawnloop-platform/pkg/logging"
)

var smsTracer = otel.Tracer("lawnloop.internal.messaging")

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

type conversationStore interface {
	UpsertLead(ctx context.Context, tenantID, phone string, patch registry.LeadPatch) (*registry.Lead, error)
	UpsertConversation(ctx context.Context, tenantID, leadID, phoneNumberID, channel string) (*registry.Conversation, error)
	InsertMessage(ctx context.Context, conversationID, direction, body, providerRef string) (string, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]registry.Message, error)
	MarkFirstResponse(ctx context.Context, conversationID string, at time.Time) (bool, error)
}

type eventClaimer interface {
	ClaimEvent(ctx context.Context, provider, eventID string) (bool, error)
}

type optOutDetector interface {
	IsOptOut(body string) bool
}

type smsReplyGenerator interface {
	SMSReply(ctx context.Context, tenantName string, history []registry.Message, inbound string) reply.Reply
}

type gateEvaluator interface {
	Evaluate(settings directory.Settings, channel policy.Channel) policy.Decision
}

type leadNotifier interface {
	NewLead(ctx context.Context, tenant directory.Tenant, lead *registry.Lead, preview string) error
}

type webhookMetrics interface {
	ObserveInbound(provider, outcome string)
	ObserveOutbound(status string)
	ObserveFallback(channel string)
	ObserveWebhookLatency(provider string, seconds float64)
}

// HandlerConfig carries the canned texts and the shared webhook secret.
type HandlerConfig struct {
	WebhookSecret      string
	OptOutConfirmation string
	AfterHoursReply    string
	DisabledReply      string
}

// Handler processes inbound SMS webhooks end to end: resolve tenant, filter
// opt-outs, gate on policy, persist, generate a reply, and send it out of
// band. The inline XML body is always the empty response element.
type Handler struct {
	cfg       HandlerConfig
	resolver  directory.Resolver
	store     conversationStore
	claims    eventClaimer
	detector  optOutDetector
	gate      gateEvaluator
	generator smsReplyGenerator
	sender    SMSSender
	notifier  leadNotifier
	metrics   webhookMetrics
	logger    *logging.Logger
}

// NewHandler wires the inbound SMS webhook handler. Notifier and metrics are
// optional; everything else is required.
func NewHandler(
	cfg HandlerConfig,
	resolver directory.Resolver,
	store conversationStore,
	claims eventClaimer,
	detector optOutDetector,
	gate gateEvaluator,
	generator smsReplyGenerator,
	sender SMSSender,
	notifier leadNotifier,
	metrics webhookMetrics,
	logger *logging.Logger,
) *Handler {
	if resolver == nil {
		panic("messaging: resolver cannot be nil")
	}
	if store == nil {
		panic("messaging: store cannot be nil")
	}
	if claims == nil {
		panic("messaging: event claimer cannot be nil")
	}
	if detector == nil {
		panic("messaging: opt-out detector cannot be nil")
	}
	if gate == nil {
		panic("messaging: gate cannot be nil")
	}
	if generator == nil {
		panic("messaging: generator cannot be nil")
	}
	if sender == nil {
		panic("messaging: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		cfg:       cfg,
		resolver:  resolver,
		store:     store,
		claims:    claims,
		detector:  detector,
		gate:      gate,
		generator: generator,
		sender:    sender,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
	}
}

// TwilioWebhook handles POST /webhooks/sms. Apart from a failed shared-secret
// check it always acknowledges with HTTP 200 and an empty TwiML body, so the
// provider never retries a delivery the engine has already seen.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := smsTracer.Start(r.Context(), "messaging.sms.webhook")
	defer span.End()
	defer func() {
		if h.metrics != nil {
			h.metrics.ObserveWebhookLatency("sms", time.Since(start).Seconds())
		}
	}()

	if !CheckSharedSecret(r, h.cfg.WebhookSecret) {
		h.logger.Warn("sms webhook secret mismatch")
		span.RecordError(errors.New("sms webhook secret mismatch"))
		h.observe("unauthorized")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	outcome := h.process(ctx, r)
	span.SetAttributes(attribute.String("lawnloop.sms.outcome", outcome))
	h.observe(outcome)
	h.ack(w)
}

// process runs the full pipeline and reports an outcome label for metrics.
// Every failure path degrades to a no-op or canned behavior; nothing here
// changes the HTTP response.
func (h *Handler) process(ctx context.Context, r *http.Request) string {
	webhook, err := ParseInboundSMS(r)
	if err != nil {
		h.logger.Error("failed to parse sms webhook", "error", err)
		return "dropped"
	}
	if webhook.MessageSid == "" || webhook.From == "" || webhook.To == "" {
		h.logger.Warn("sms webhook missing required fields", "message_sid", webhook.MessageSid)
		return "dropped"
	}
	from := directory.NormalizeE164(webhook.From)

	route, err := h.resolver.Resolve(ctx, webhook.To)
	if err != nil {
		if errors.Is(err, directory.ErrNumberNotFound) {
			h.logger.Warn("sms to unknown number", "to", webhook.To)
			return "unknown_number"
		}
		h.logger.Error("failed to resolve sms destination", "error", err, "to", webhook.To)
		return "error"
	}

	first, err := h.claims.ClaimEvent(ctx, events.ProviderSMS, webhook.MessageSid)
	if err != nil {
		// A dedup-store error is not a reason to drop the message.
		h.logger.Error("failed to claim sms event", "error", err, "message_sid", webhook.MessageSid)
	} else if !first {
		h.logger.Info("duplicate sms delivery ignored", "message_sid", webhook.MessageSid)
		return "duplicate"
	}

	if h.detector.IsOptOut(webhook.Body) {
		return h.handleOptOut(ctx, route, from)
	}

	lead, err := h.store.UpsertLead(ctx, route.Tenant.ID, from, registry.LeadPatch{Source: "sms"})
	if err != nil {
		h.logger.Error("failed to upsert lead", "error", err, "tenant_id", route.Tenant.ID)
		return "error"
	}
	if lead.DoNotContact {
		h.logger.Info("suppressing reply to opted-out lead", "tenant_id", route.Tenant.ID, "lead_id", lead.ID)
		return "do_not_contact"
	}

	conv, err := h.store.UpsertConversation(ctx, route.Tenant.ID, lead.ID, route.Number.ID, registry.ChannelSMS)
	if err != nil {
		h.logger.Error("failed to upsert conversation", "error", err, "tenant_id", route.Tenant.ID)
		return "error"
	}
	if _, err := h.store.InsertMessage(ctx, conv.ID, registry.DirectionInbound, webhook.Body, webhook.MessageSid); err != nil {
		h.logger.Error("failed to persist inbound message", "error", err, "conversation_id", conv.ID)
	}

	h.notifyNewLead(ctx, route.Tenant, lead, webhook.Body)

	decision := h.gate.Evaluate(route.Settings, policy.ChannelSMS)
	switch decision.Action {
	case policy.ActionAfterHours:
		h.sendReply(ctx, route, conv.ID, from, h.cfg.AfterHoursReply)
		return "after_hours"
	case policy.ActionCannedReply, policy.ActionForward:
		// Call forwarding has no SMS equivalent; a disabled text channel
		// always gets the canned reply.
		h.sendReply(ctx, route, conv.ID, from, h.cfg.DisabledReply)
		return "channel_disabled"
	}

	history, err := h.store.RecentMessages(ctx, conv.ID, 0)
	if err != nil {
		h.logger.Error("failed to load conversation history", "error", err, "conversation_id", conv.ID)
		history = nil
	}
	generated := h.generator.SMSReply(ctx, route.Tenant.Name, history, webhook.Body)
	if generated.Source == reply.SourceFallback {
		h.logger.WithTenant(route.Tenant.ID).Warn("sms reply served from fallback", "conversation_id", conv.ID)
		if h.metrics != nil {
			h.metrics.ObserveFallback("sms")
		}
	}
	h.sendReply(ctx, route, conv.ID, from, generated.Text)
	return "replied"
}

// handleOptOut flags the lead and confirms once. The do_not_contact flag only
// ever flips to true, and the opt-out leaves no conversation, message, or
// first-response records behind.
func (h *Handler) handleOptOut(ctx context.Context, route *directory.Route, from string) string {
	lead, err := h.store.UpsertLead(ctx, route.Tenant.ID, from, registry.LeadPatch{Source: "sms", DoNotContact: true})
	if err != nil {
		h.logger.Error("failed to record opt-out", "error", err, "tenant_id", route.Tenant.ID)
		return "error"
	}
	if h.cfg.OptOutConfirmation != "" {
		_, sendErr := h.sender.Send(ctx, OutboundSMS{
			TenantID: route.Tenant.ID,
			To:       from,
			From:     route.Number.E164,
			Body:     h.cfg.OptOutConfirmation,
		})
		if sendErr != nil {
			h.logger.Error("failed to send opt-out confirmation", "error", sendErr, "tenant_id", route.Tenant.ID, "to", from)
			if h.metrics != nil {
				h.metrics.ObserveOutbound("failed")
			}
		} else if h.metrics != nil {
			h.metrics.ObserveOutbound("sent")
		}
	}
	h.logger.Info("lead opted out", "tenant_id", route.Tenant.ID, "lead_id", lead.ID)
	return "opted_out"
}

// sendReply persists the outbound message and dispatches it. The outbound row
// is written even when the provider send fails so the transcript stays whole.
func (h *Handler) sendReply(ctx context.Context, route *directory.Route, conversationID, to, body string) {
	if body == "" {
		return
	}
	result, sendErr := h.sender.Send(ctx, OutboundSMS{
		TenantID: route.Tenant.ID,
		To:       to,
		From:     route.Number.E164,
		Body:     body,
	})
	if sendErr != nil {
		h.logger.Error("failed to send sms reply", "error", sendErr, "tenant_id", route.Tenant.ID, "to", to)
		if h.metrics != nil {
			h.metrics.ObserveOutbound("failed")
		}
	} else if h.metrics != nil {
		h.metrics.ObserveOutbound("sent")
	}

	if _, err := h.store.InsertMessage(ctx, conversationID, registry.DirectionOutbound, body, result.ProviderRef); err != nil {
		h.logger.Error("failed to persist outbound message", "error", err, "conversation_id", conversationID)
	}
	if _, err := h.store.MarkFirstResponse(ctx, conversationID, time.Now().UTC()); err != nil {
		h.logger.Error("failed to mark first response", "error", err, "conversation_id", conversationID)
	}
}

func (h *Handler) notifyNewLead(ctx context.Context, tenant directory.Tenant, lead *registry.Lead, preview string) {
	if h.notifier == nil || !lead.CreatedAt.Equal(lead.UpdatedAt) {
		// created_at and updated_at share the insert timestamp only on the
		// first upsert of a lead.
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.notifier.NewLead(notifyCtx, tenant, lead, preview); err != nil {
		h.logger.Warn("failed to send new-lead notification", "error", err, "tenant_id", tenant.ID)
	}
}

func (h *Handler) observe(outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveInbound("sms", outcome)
	}
}

func (h *Handler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}
