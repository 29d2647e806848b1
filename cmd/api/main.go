package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lawnloop/lawnloop-platform/internal/api/router"
	appconfig "github.com/lawnloop/lawnloop-platform/internal/config"
	"github.com/lawnloop/lawnloop-platform/internal/directory"
	"github.com/lawnloop/lawnloop-platform/internal/events"
	"github.com/lawnloop/lawnloop-platform/internal/messaging"
	"github.com/lawnloop/lawnloop-platform/internal/notify"
	"github.com/lawnloop/lawnloop-platform/internal/observability/metrics"
	"github.com/lawnloop/lawnloop-platform/internal/optout"
	"github.com/lawnloop/lawnloop-platform/internal/policy"
	"github.com/lawnloop/lawnloop-platform/internal/registry"
	"github.com/lawnloop/lawnloop-platform/internal/reply"
	"github.com/lawnloop/lawnloop-platform/internal/salesvoice"
	"github.com/lawnloop/lawnloop-platform/internal/voice"
	"github.com/lawnloop/lawnloop-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting lawnloop-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	resolver := directory.NewPostgresResolver(pool)
	store := registry.NewStore(pool)
	processed := events.NewProcessedStore(pool)
	gate := policy.NewGate(logger.Component("policy"))
	detector := optout.NewDetector()
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	generator := reply.NewGenerator(buildLLMClient(ctx, cfg, logger), reply.GeneratorConfig{
		Model:            cfg.OpenAIModel,
		SMSMaxTokens:     int32(cfg.SMSReplyMaxTokens),
		VoiceMaxTokens:   int32(cfg.VoiceReplyMaxTokens),
		SummaryMaxTokens: int32(cfg.SummaryMaxTokens),
		Timeout:          cfg.CompletionTimeout,
	}, logger.Component("reply")).WithMetrics(webhookMetrics)

	var emailSender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger.Component("notify")); sg != nil {
		emailSender = sg
	}
	notifier := notify.NewService(emailSender, logger.Component("notify"))

	smsSender := messaging.NewTwilioSender(
		cfg.TwilioAccountSID,
		cfg.TwilioAuthToken,
		cfg.SMSSendTimeout,
		cfg.SMSSendMaxAttempts,
		logger.Component("messaging"),
	)

	messagingHandler := messaging.NewHandler(
		messaging.HandlerConfig{
			WebhookSecret:      cfg.SMSWebhookSecret,
			OptOutConfirmation: cfg.OptOutConfirmation,
			AfterHoursReply:    cfg.AfterHoursSMSReply,
			DisabledReply:      cfg.DisabledChannelSMS,
		},
		resolver, store, processed, detector, gate, generator, smsSender,
		notifier, webhookMetrics, logger.Component("messaging"),
	)
	voiceHandler := voice.NewHandler(
		cfg.PublicBaseURL,
		resolver, store, processed, gate, generator,
		notifier, webhookMetrics, logger.Component("voice"),
	)
	salesHandler := salesvoice.NewHandler(
		cfg.SalesVoiceBearerToken,
		resolver, store, processed,
		notifier, webhookMetrics, logger.Component("salesvoice"),
	)

	r := router.New(&router.Config{
		Logger:            logger,
		MessagingHandler:  messagingHandler,
		VoiceHandler:      voiceHandler,
		SalesVoiceHandler: salesHandler,
		MetricsHandler:    promhttp.Handler(),
		RatePerSecond:     cfg.WebhookRatePerSecond,
		Burst:             cfg.WebhookRateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildLLMClient wires OpenAI as the primary completion backend with an
// optional Bedrock secondary behind the fallback chain.
func buildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) reply.LLMClient {
	primary := reply.NewOpenAIClient(cfg.OpenAIAPIKey)
	if cfg.BedrockModelID == "" {
		return primary
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Warn("failed to load AWS config, bedrock fallback disabled", "error", err)
		return primary
	}
	secondary := reply.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
	return reply.NewFallbackLLMClient(primary, secondary, cfg.BedrockModelID, logger.Component("reply"))
}
