package reply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lawnloop/lawnloop-platform/internal/registry"
	"github.com/lawnloop/lawnloop-platform/pkg/logging"
)

var tracer = otel.Tracer("lawnloop.internal.reply")

// Source records whether a reply came from the completion service or from
// the deterministic fallback path. Tests assert on it directly instead of
// simulating network failures.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// Reply is the outcome of a generation attempt. Text is always non-empty:
// an inbound message is never left unanswered because of an AI outage.
type Reply struct {
	Text   string
	Source Source
}

// historyWindow bounds how many prior messages feed the prompt.
const historyWindow = 10

// GeneratorConfig sizes the token caps and call budget.
type GeneratorConfig struct {
	Model            string
	SMSMaxTokens     int32
	VoiceMaxTokens   int32
	SummaryMaxTokens int32
	Timeout          time.Duration
}

type completionObserver interface {
	ObserveCompletionLatency(seconds float64)
}

// Generator builds bounded conversation prompts and calls the completion
// service, degrading to deterministic fallback text on any failure.
type Generator struct {
	client  LLMClient
	cfg     GeneratorConfig
	metrics completionObserver
	logger  *logging.Logger
}

// NewGenerator wires a generator. Zero config fields get working defaults.
func NewGenerator(client LLMClient, cfg GeneratorConfig, logger *logging.Logger) *Generator {
	if client == nil {
		panic("reply: llm client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.SMSMaxTokens <= 0 {
		cfg.SMSMaxTokens = 300
	}
	if cfg.VoiceMaxTokens <= 0 {
		cfg.VoiceMaxTokens = 150
	}
	if cfg.SummaryMaxTokens <= 0 {
		cfg.SummaryMaxTokens = 120
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Generator{client: client, cfg: cfg, logger: logger}
}

// WithMetrics returns a copy that reports completion latency to m.
func (g *Generator) WithMetrics(m completionObserver) *Generator {
	out := *g
	out.metrics = m
	return &out
}

func smsSystemPrompt(tenantName string) string {
	return fmt.Sprintf(
		"You are the friendly text assistant for %s, a landscaping company. "+
			"Answer customer texts warmly and concisely. Never invent pricing, "+
			"never commit to a schedule; offer to have the team confirm details. "+
			"Keep replies under three sentences.",
		tenantName,
	)
}

func voiceSystemPrompt(tenantName string) string {
	return fmt.Sprintf(
		"You are the phone assistant for %s, a landscaping company. Your reply "+
			"will be spoken aloud: use plain spoken language, 2-3 short sentences, "+
			"no lists or URLs. Never invent pricing or scheduling commitments.",
		tenantName,
	)
}

// FallbackText is the deterministic reply used when the completion service
// is unavailable.
func FallbackText(tenantName string) string {
	return fmt.Sprintf("Thanks for contacting %s! A member of our team will get back to you shortly.", tenantName)
}

// FallbackSummary is the templated call summary used when summarization fails.
func FallbackSummary(callerPhone string) string {
	return fmt.Sprintf("Inbound call from %s handled by the assistant. Transcript available; automatic summary unavailable.", callerPhone)
}

// SMSReply generates a text reply from the tenant's system prompt, the most
// recent window of conversation history, and the new inbound body.
func (g *Generator) SMSReply(ctx context.Context, tenantName string, history []registry.Message, inbound string) Reply {
	ctx, span := tracer.Start(ctx, "reply.sms")
	defer span.End()

	messages := renderHistory(history)
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: inbound})

	return g.complete(ctx, LLMRequest{
		Model:     g.cfg.Model,
		System:    []string{smsSystemPrompt(tenantName)},
		Messages:  messages,
		MaxTokens: g.cfg.SMSMaxTokens,
	}, FallbackText(tenantName))
}

// VoiceReply generates a spoken-register reply from the running call
// transcript and the caller's latest utterance.
func (g *Generator) VoiceReply(ctx context.Context, tenantName, transcript, speech string) Reply {
	ctx, span := tracer.Start(ctx, "reply.voice")
	defer span.End()

	messages := make([]ChatMessage, 0, 2)
	if strings.TrimSpace(transcript) != "" {
		messages = append(messages, ChatMessage{
			Role:    ChatRoleSystem,
			Content: "Conversation so far:\n" + transcript,
		})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: speech})

	return g.complete(ctx, LLMRequest{
		Model:     g.cfg.Model,
		System:    []string{voiceSystemPrompt(tenantName)},
		Messages:  messages,
		MaxTokens: g.cfg.VoiceMaxTokens,
	}, FallbackText(tenantName))
}

// SummarizeCall produces a short summary of a finished call. The fallback
// is a templated string so calls always end with a usable summary.
func (g *Generator) SummarizeCall(ctx context.Context, callerPhone, transcript string) Reply {
	ctx, span := tracer.Start(ctx, "reply.summary")
	defer span.End()

	return g.complete(ctx, LLMRequest{
		Model: g.cfg.Model,
		System: []string{
			"Summarize this phone call between a landscaping company's AI assistant " +
				"and a caller in one or two sentences. Note what the caller wanted and " +
				"any follow-up needed.",
		},
		Messages:  []ChatMessage{{Role: ChatRoleUser, Content: transcript}},
		MaxTokens: g.cfg.SummaryMaxTokens,
	}, FallbackSummary(callerPhone))
}

func (g *Generator) complete(ctx context.Context, req LLMRequest, fallback string) Reply {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Complete(ctx, req)
	if g.metrics != nil {
		g.metrics.ObserveCompletionLatency(time.Since(start).Seconds())
	}
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		if err != nil {
			g.logger.Error("completion failed, using fallback", "error", err, "model", req.Model)
		} else {
			g.logger.Warn("completion returned empty text, using fallback", "model", req.Model)
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("lawnloop.reply.fallback", true))
		return Reply{Text: fallback, Source: SourceFallback}
	}
	return Reply{Text: strings.TrimSpace(resp.Text), Source: SourceGenerated}
}

// renderHistory converts stored messages to Customer:/AI: chat turns,
// oldest-first, bounded to the history window.
func renderHistory(history []registry.Message) []ChatMessage {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	messages := make([]ChatMessage, 0, len(history))
	for _, msg := range history {
		role := ChatRoleUser
		if msg.Direction == registry.DirectionOutbound {
			role = ChatRoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: msg.Body})
	}
	return messages
}
