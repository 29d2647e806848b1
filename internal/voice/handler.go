package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
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

var voiceTracer = otel.Tracer("lawnloop.internal.voice")

// Phrases that route the caller to a person instead of the AI.
var handoffPhrases = []string{
	"call me",
	"agent",
	"human",
	"owner",
	"speak to someone",
	"talk to someone",
	"real person",
}

type callStore interface {
	UpsertLead(ctx context.Context, tenantID, phone string, patch registry.LeadPatch) (*registry.Lead, error)
	UpsertConversation(ctx context.Context, tenantID, leadID, phoneNumberID, channel string) (*registry.Conversation, error)
	UpsertCall(ctx context.Context, conversationID, direction, providerCallID, status string) (*registry.Call, error)
	AppendCallTranscript(ctx context.Context, providerCallID, text string) (string, error)
	FinalizeCall(ctx context.Context, providerCallID, status, summary, recordingURL string, endedAt time.Time) error
	MarkFirstResponse(ctx context.Context, conversationID string, at time.Time) (bool, error)
}

type eventClaimer interface {
	ClaimEvent(ctx context.Context, provider, eventID string) (bool, error)
}

type gateEvaluator interface {
	Evaluate(settings directory.Settings, channel policy.Channel) policy.Decision
}

type voiceReplyGenerator interface {
	VoiceReply(ctx context.Context, tenantName, transcript, speech string) reply.Reply
	SummarizeCall(ctx context.Context, callerPhone, transcript string) reply.Reply
}

type handoffNotifier interface {
	Handoff(ctx context.Context, tenant directory.Tenant, callerPhone, transcript string) error
}

type webhookMetrics interface {
	ObserveInbound(provider, outcome string)
	ObserveFallback(channel string)
	ObserveWebhookLatency(provider string, seconds float64)
}

// Handler answers inbound voice webhooks with TwiML. The dialogue is bounded
// to two speech turns; the turn counter travels in the callback URL and no
// call state is cached in-process.
type Handler struct {
	baseURL   string
	resolver  directory.Resolver
	store     callStore
	claims    eventClaimer
	gate      gateEvaluator
	generator voiceReplyGenerator
	notifier  handoffNotifier
	metrics   webhookMetrics
	logger    *logging.Logger
}

// NewHandler wires the voice webhook handler. Notifier and metrics are
// optional.
func NewHandler(
	baseURL string,
	resolver directory.Resolver,
	store callStore,
	claims eventClaimer,
	gate gateEvaluator,
	generator voiceReplyGenerator,
	notifier handoffNotifier,
	metrics webhookMetrics,
	logger *logging.Logger,
) *Handler {
	if resolver == nil {
		panic("voice: resolver cannot be nil")
	}
	if store == nil {
		panic("voice: store cannot be nil")
	}
	if claims == nil {
		panic("voice: event claimer cannot be nil")
	}
	if gate == nil {
		panic("voice: gate cannot be nil")
	}
	if generator == nil {
		panic("voice: generator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		baseURL:   strings.TrimRight(baseURL, "/"),
		resolver:  resolver,
		store:     store,
		claims:    claims,
		gate:      gate,
		generator: generator,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
	}
}

type callContext struct {
	route   *directory.Route
	callSid string
	from    string
	turn    Turn
	speech  string
}

// TwilioWebhook handles POST /webhooks/voice. Every branch answers with a
// TwiML document and HTTP 200; a caller never hears an error.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := voiceTracer.Start(r.Context(), "voice.webhook")
	defer span.End()
	defer func() {
		if h.metrics != nil {
			h.metrics.ObserveWebhookLatency("voice", time.Since(start).Seconds())
		}
	}()

	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse voice webhook form", "error", err)
		h.observe("dropped")
		Write(w, Response{Say: say("Sorry, we could not take your call. Please try again later."), Hangup: &Hangup{}})
		return
	}

	callSid := strings.TrimSpace(r.FormValue("CallSid"))
	from := directory.NormalizeE164(r.FormValue("From"))
	to := strings.TrimSpace(r.FormValue("To"))
	if callSid == "" || from == "" || to == "" {
		h.logger.Warn("voice webhook missing required fields", "call_sid", callSid)
		h.observe("dropped")
		Write(w, Response{Hangup: &Hangup{}})
		return
	}

	turn := ParseTurn(r.URL.Query().Get("turn"))
	span.SetAttributes(
		attribute.String("lawnloop.voice.call_sid", callSid),
		attribute.Int("lawnloop.voice.turn", int(turn)),
	)

	route, err := h.resolver.Resolve(ctx, to)
	if err != nil {
		if errors.Is(err, directory.ErrNumberNotFound) {
			h.logger.Warn("call to unknown number", "to", to)
		} else {
			h.logger.Error("failed to resolve call destination", "error", err, "to", to)
		}
		h.observe("unknown_number")
		Write(w, Response{Say: say("Sorry, this number is not in service."), Hangup: &Hangup{}})
		return
	}

	call := &callContext{
		route:   route,
		callSid: callSid,
		from:    from,
		turn:    turn,
		speech:  strings.TrimSpace(r.FormValue("SpeechResult")),
	}

	// A completed Record verb posts back with the recording URL.
	if recordingURL := strings.TrimSpace(r.FormValue("RecordingUrl")); recordingURL != "" {
		h.finishVoicemail(ctx, call, recordingURL)
		h.observe("voicemail")
		Write(w, Response{Say: say("Thanks, we got your message. Goodbye."), Hangup: &Hangup{}})
		return
	}

	first, err := h.claims.ClaimEvent(ctx, events.ProviderVoice, fmt.Sprintf("%s:%d", callSid, turn))
	if err != nil {
		h.logger.Error("failed to claim voice event", "error", err, "call_sid", callSid)
	} else if !first {
		// Redelivered turn: repeat the prompt without side effects.
		h.observe("duplicate")
		h.replayTurn(w, call)
		return
	}

	outcome, resp := h.handleTurn(ctx, call)
	h.observe(outcome)
	Write(w, resp)
}

func (h *Handler) handleTurn(ctx context.Context, call *callContext) (string, Response) {
	conv, err := h.ensureConversation(ctx, call)
	if err != nil {
		h.logger.Error("failed to persist call records", "error", err, "call_sid", call.callSid)
		return "error", Response{Say: say("Sorry, we are having trouble right now. Please call back shortly."), Hangup: &Hangup{}}
	}

	if call.turn == TurnGreeting {
		decision := h.gate.Evaluate(call.route.Settings, policy.ChannelVoice)
		switch decision.Action {
		case policy.ActionForward:
			if err := h.store.FinalizeCall(ctx, call.callSid, registry.CallStatusForwarded, "", "", time.Now().UTC()); err != nil {
				h.logger.Error("failed to finalize forwarded call", "error", err, "call_sid", call.callSid)
			}
			return "forwarded", Response{
				Say:  say("One moment while we connect you."),
				Dial: &Dial{Number: decision.ForwardPhone},
			}
		case policy.ActionCannedReply:
			return "voicemail_prompt", h.voicemailPrompt(call,
				fmt.Sprintf("Thanks for calling %s. Please leave a message after the beep and we will call you back.", call.route.Tenant.Name))
		case policy.ActionAfterHours:
			return "after_hours", h.voicemailPrompt(call,
				fmt.Sprintf("Thanks for calling %s. We are closed right now. Please leave a message after the beep.", call.route.Tenant.Name))
		}
		return "greeting", Response{
			Say: say(fmt.Sprintf("Thanks for calling %s. How can I help with your lawn or landscaping needs?", call.route.Tenant.Name)),
			Gather: &Gather{
				Input:         "speech",
				Action:        h.turnURL(TurnFirstListen),
				Method:        http.MethodPost,
				SpeechTimeout: "auto",
			},
		}
	}

	if call.speech == "" {
		settings := call.route.Settings
		if settings.CallForwardingEnabled && settings.ForwardPhone != "" {
			if err := h.store.FinalizeCall(ctx, call.callSid, registry.CallStatusForwarded, "", "", time.Now().UTC()); err != nil {
				h.logger.Error("failed to finalize forwarded call", "error", err, "call_sid", call.callSid)
			}
			return "no_input_forwarded", Response{
				Say:  say("We didn't catch that. Connecting you now."),
				Dial: &Dial{Number: settings.ForwardPhone},
			}
		}
		if err := h.store.FinalizeCall(ctx, call.callSid, registry.CallStatusNoInput, "", "", time.Now().UTC()); err != nil {
			h.logger.Error("failed to finalize silent call", "error", err, "call_sid", call.callSid)
		}
		return "no_input", Response{
			Say:    say("We didn't catch that. Feel free to call back or text us anytime. Goodbye."),
			Hangup: &Hangup{},
		}
	}

	if isHandoffRequest(call.speech) {
		return h.handleHandoff(ctx, call)
	}

	transcript, err := h.store.AppendCallTranscript(ctx, call.callSid, "Customer: "+call.speech+"\n")
	if err != nil {
		h.logger.Error("failed to append transcript", "error", err, "call_sid", call.callSid)
		transcript = "Customer: " + call.speech + "\n"
	}

	generated := h.generator.VoiceReply(ctx, call.route.Tenant.Name, transcript, call.speech)
	if generated.Source == reply.SourceFallback && h.metrics != nil {
		h.metrics.ObserveFallback("voice")
	}
	if _, err := h.store.AppendCallTranscript(ctx, call.callSid, "AI: "+generated.Text+"\n"); err != nil {
		h.logger.Error("failed to append reply transcript", "error", err, "call_sid", call.callSid)
	}
	if _, err := h.store.MarkFirstResponse(ctx, conv.ID, time.Now().UTC()); err != nil {
		h.logger.Error("failed to mark first response", "error", err, "conversation_id", conv.ID)
	}

	if call.turn >= TurnFinalListen {
		summary := h.generator.SummarizeCall(ctx, call.from, transcript+"AI: "+generated.Text+"\n")
		if err := h.store.FinalizeCall(ctx, call.callSid, registry.CallStatusCompleted, summary.Text, "", time.Now().UTC()); err != nil {
			h.logger.Error("failed to finalize call", "error", err, "call_sid", call.callSid)
		}
		return "completed", Response{
			Say:    []Say{{Text: generated.Text}, {Text: "Thanks for calling. We'll follow up by text shortly. Goodbye."}},
			Hangup: &Hangup{},
		}
	}

	return "replied", Response{
		Say: say(generated.Text),
		Gather: &Gather{
			Input:         "speech",
			Action:        h.turnURL(call.turn + 1),
			Method:        http.MethodPost,
			SpeechTimeout: "auto",
		},
	}
}

// ensureConversation upserts the lead, conversation, and call rows. All three
// upserts are idempotent, so mid-call turns converge on the same rows.
func (h *Handler) ensureConversation(ctx context.Context, call *callContext) (*registry.Conversation, error) {
	lead, err := h.store.UpsertLead(ctx, call.route.Tenant.ID, call.from, registry.LeadPatch{Source: "voice"})
	if err != nil {
		return nil, err
	}
	conv, err := h.store.UpsertConversation(ctx, call.route.Tenant.ID, lead.ID, call.route.Number.ID, registry.ChannelVoice)
	if err != nil {
		return nil, err
	}
	if _, err := h.store.UpsertCall(ctx, conv.ID, registry.DirectionInbound, call.callSid, registry.CallStatusInProgress); err != nil {
		return nil, err
	}
	return conv, nil
}

func (h *Handler) handleHandoff(ctx context.Context, call *callContext) (string, Response) {
	transcript, err := h.store.AppendCallTranscript(ctx, call.callSid, "Customer: "+call.speech+"\n")
	if err != nil {
		h.logger.Error("failed to append handoff transcript", "error", err, "call_sid", call.callSid)
		transcript = "Customer: " + call.speech + "\n"
	}
	h.notifyHandoff(ctx, call, transcript)

	settings := call.route.Settings
	if settings.CallForwardingEnabled && settings.ForwardPhone != "" {
		if err := h.store.FinalizeCall(ctx, call.callSid, registry.CallStatusForwarded, "", "", time.Now().UTC()); err != nil {
			h.logger.Error("failed to finalize handoff call", "error", err, "call_sid", call.callSid)
		}
		return "handoff_forwarded", Response{
			Say:  say("Of course, connecting you now."),
			Dial: &Dial{Number: settings.ForwardPhone},
		}
	}
	return "handoff_voicemail", h.voicemailPrompt(call,
		"Of course. No one is available right now, so please leave a message after the beep and the owner will call you back.")
}

func (h *Handler) voicemailPrompt(call *callContext, prompt string) Response {
	return Response{
		Say: say(prompt),
		Record: &Record{
			Action:    h.turnURL(call.turn),
			Method:    http.MethodPost,
			MaxLength: 120,
			PlayBeep:  true,
		},
	}
}

func (h *Handler) finishVoicemail(ctx context.Context, call *callContext, recordingURL string) {
	if _, err := h.ensureConversation(ctx, call); err != nil {
		h.logger.Error("failed to persist voicemail records", "error", err, "call_sid", call.callSid)
	}
	if err := h.store.FinalizeCall(ctx, call.callSid, registry.CallStatusVoicemail, "", recordingURL, time.Now().UTC()); err != nil {
		h.logger.Error("failed to finalize voicemail", "error", err, "call_sid", call.callSid)
	}
}

// replayTurn re-issues the prompt for a redelivered turn without touching
// storage or the completion service.
func (h *Handler) replayTurn(w http.ResponseWriter, call *callContext) {
	if call.turn == TurnGreeting {
		Write(w, Response{
			Say: say(fmt.Sprintf("Thanks for calling %s. How can I help with your lawn or landscaping needs?", call.route.Tenant.Name)),
			Gather: &Gather{
				Input:         "speech",
				Action:        h.turnURL(TurnFirstListen),
				Method:        http.MethodPost,
				SpeechTimeout: "auto",
			},
		})
		return
	}
	Write(w, Response{
		Say: say("Sorry, could you say that again?"),
		Gather: &Gather{
			Input:         "speech",
			Action:        h.turnURL(call.turn),
			Method:        http.MethodPost,
			SpeechTimeout: "auto",
		},
	})
}

func (h *Handler) notifyHandoff(ctx context.Context, call *callContext, transcript string) {
	if h.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.notifier.Handoff(notifyCtx, call.route.Tenant, call.from, transcript); err != nil {
		h.logger.Warn("failed to send handoff notification", "error", err, "tenant_id", call.route.Tenant.ID)
	}
}

func (h *Handler) turnURL(turn Turn) string {
	return fmt.Sprintf("%s/webhooks/voice?turn=%d", h.baseURL, turn)
}

func (h *Handler) observe(outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveInbound("voice", outcome)
	}
}

func isHandoffRequest(speech string) bool {
	lowered := strings.ToLower(speech)
	for _, phrase := range handoffPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
