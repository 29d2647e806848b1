package salesvoice

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lawnloop/lawnloop-platform/internal/directory"
	"github.com/lawnloop/lawnloop-platform/internal/events"
	"github.com/lawnloop/lawnloop-platform/internal/registry"
	"github.com/lawnloop/lawnloop-platform/pkg/logging"
)

var salesTracer = otel.Tracer("lawnloop.internal.salesvoice")

const maxPayloadBytes = 1 << 20

// NextStepRedirected marks a caller who asked not to be contacted again.
const NextStepRedirected = "redirected"

type callStore interface {
	UpsertLead(ctx context.Context, tenantID, phone string, patch registry.LeadPatch) (*registry.Lead, error)
	UpsertConversation(ctx context.Context, tenantID, leadID, phoneNumberID, channel string) (*registry.Conversation, error)
	UpsertCall(ctx context.Context, conversationID, direction, providerCallID, status string) (*registry.Call, error)
	AppendCallTranscript(ctx context.Context, providerCallID, text string) (string, error)
	FinalizeCall(ctx context.Context, providerCallID, status, summary, recordingURL string, endedAt time.Time) error
}

type eventClaimer interface {
	ClaimEvent(ctx context.Context, provider, eventID string) (bool, error)
}

type leadNotifier interface {
	NewLead(ctx context.Context, tenant directory.Tenant, lead *registry.Lead, preview string) error
}

type webhookMetrics interface {
	ObserveInbound(provider, outcome string)
	ObserveWebhookLatency(provider string, seconds float64)
}

// Handler ingests completed-call webhooks from the outbound sales-call
// provider. An unresolvable destination number is acknowledged and logged,
// never attached to a guessed tenant.
type Handler struct {
	bearerToken string
	resolver    directory.Resolver
	store       callStore
	claims      eventClaimer
	notifier    leadNotifier
	metrics     webhookMetrics
	logger      *logging.Logger
}

// NewHandler wires the sales-voice webhook handler. Notifier and metrics are
// optional.
func NewHandler(
	bearerToken string,
	resolver directory.Resolver,
	store callStore,
	claims eventClaimer,
	notifier leadNotifier,
	metrics webhookMetrics,
	logger *logging.Logger,
) *Handler {
	if resolver == nil {
		panic("salesvoice: resolver cannot be nil")
	}
	if store == nil {
		panic("salesvoice: store cannot be nil")
	}
	if claims == nil {
		panic("salesvoice: event claimer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		bearerToken: bearerToken,
		resolver:    resolver,
		store:       store,
		claims:      claims,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
	}
}

// Webhook handles POST /webhooks/salescall. Apart from a failed bearer check
// it always responds {"received": true} with HTTP 200.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := salesTracer.Start(r.Context(), "salesvoice.webhook")
	defer span.End()
	defer func() {
		if h.metrics != nil {
			h.metrics.ObserveWebhookLatency("sales_voice", time.Since(start).Seconds())
		}
	}()

	if !h.checkBearer(r) {
		h.logger.Warn("sales-voice webhook bearer mismatch")
		span.RecordError(errors.New("sales-voice bearer mismatch"))
		h.observe("unauthorized")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	outcome := h.process(ctx, r)
	span.SetAttributes(attribute.String("lawnloop.sales_voice.outcome", outcome))
	h.observe(outcome)
	h.ack(w)
}

func (h *Handler) process(ctx context.Context, r *http.Request) string {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		h.logger.Error("failed to read sales-voice body", "error", err)
		return "dropped"
	}
	payload, err := ParsePayload(body)
	if err != nil {
		h.logger.Error("invalid sales-voice payload", "error", err)
		return "dropped"
	}

	route, err := h.resolver.Resolve(ctx, payload.To)
	if err != nil {
		if errors.Is(err, directory.ErrNumberNotFound) {
			// No tenant guessing: acknowledge and log only.
			h.logger.Warn("sales-voice call to unknown number", "to", payload.To, "call_id", payload.CallID)
			return "unknown_number"
		}
		h.logger.Error("failed to resolve sales-voice destination", "error", err, "to", payload.To)
		return "error"
	}

	first, err := h.claims.ClaimEvent(ctx, events.ProviderSalesVoice, payload.CallID)
	if err != nil {
		h.logger.Error("failed to claim sales-voice event", "error", err, "call_id", payload.CallID)
	} else if !first {
		h.logger.Info("duplicate sales-voice delivery ignored", "call_id", payload.CallID)
		return "duplicate"
	}

	patch := registry.LeadPatch{Source: "sales_voice"}
	analysis := payload.Analysis.Analysis
	if analysis != nil {
		patch.Name = analysis.CallerName
		if strings.EqualFold(analysis.NextStep, NextStepRedirected) {
			patch.DoNotContact = true
		}
	}

	caller := directory.NormalizeE164(payload.From)
	lead, err := h.store.UpsertLead(ctx, route.Tenant.ID, caller, patch)
	if err != nil {
		h.logger.Error("failed to upsert sales-voice lead", "error", err, "tenant_id", route.Tenant.ID)
		return "error"
	}
	conv, err := h.store.UpsertConversation(ctx, route.Tenant.ID, lead.ID, route.Number.ID, registry.ChannelVoice)
	if err != nil {
		h.logger.Error("failed to upsert sales-voice conversation", "error", err, "tenant_id", route.Tenant.ID)
		return "error"
	}
	if _, err := h.store.UpsertCall(ctx, conv.ID, registry.DirectionOutbound, payload.CallID, callStatus(payload.Status)); err != nil {
		h.logger.Error("failed to upsert sales-voice call", "error", err, "call_id", payload.CallID)
		return "error"
	}
	if transcript := payload.TranscriptText(); transcript != "" {
		if _, err := h.store.AppendCallTranscript(ctx, payload.CallID, transcript); err != nil {
			h.logger.Error("failed to store sales-voice transcript", "error", err, "call_id", payload.CallID)
		}
	}
	if err := h.store.FinalizeCall(ctx, payload.CallID, callStatus(payload.Status), payload.Summary, payload.RecordingURL, time.Now().UTC()); err != nil {
		h.logger.Error("failed to finalize sales-voice call", "error", err, "call_id", payload.CallID)
	}

	if analysis != nil && analysis.Qualified && !lead.DoNotContact {
		h.notifyQualifiedLead(ctx, route.Tenant, lead, payload.Summary)
	}

	h.logger.Info("sales-voice call recorded",
		"tenant_id", route.Tenant.ID,
		"call_id", payload.CallID,
		"lead_id", lead.ID,
	)
	return "recorded"
}

func (h *Handler) notifyQualifiedLead(ctx context.Context, tenant directory.Tenant, lead *registry.Lead, summary string) {
	if h.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.notifier.NewLead(notifyCtx, tenant, lead, summary); err != nil {
		h.logger.Warn("failed to send qualified-lead notification", "error", err, "tenant_id", tenant.ID)
	}
}

func (h *Handler) checkBearer(r *http.Request) bool {
	if h.bearerToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.bearerToken)) == 1
}

func (h *Handler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func (h *Handler) observe(outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveInbound("sales_voice", outcome)
	}
}

func callStatus(providerStatus string) string {
	switch strings.ToLower(providerStatus) {
	case "completed", "success", "":
		return registry.CallStatusCompleted
	case "voicemail", "no_answer", "no-answer":
		return registry.CallStatusVoicemail
	default:
		return registry.CallStatusCompleted
	}
}
