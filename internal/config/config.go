package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// SMS provider (Twilio-style REST API + form-encoded webhooks).
	TwilioAccountSID   string
	TwilioAuthToken    string
	SMSWebhookSecret   string
	SMSSendTimeout     time.Duration
	SMSSendMaxAttempts int
	OptOutConfirmation string
	AfterHoursSMSReply string
	DisabledChannelSMS string

	// Sales-voice provider (JSON webhooks, bearer auth).
	SalesVoiceBearerToken string

	// AI completion service.
	OpenAIAPIKey        string
	OpenAIModel         string
	SMSReplyMaxTokens   int
	VoiceReplyMaxTokens int
	SummaryMaxTokens    int
	CompletionTimeout   time.Duration

	// Optional Bedrock secondary completion backend.
	AWSRegion      string
	BedrockModelID string

	// Operator notifications.
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// Webhook rate limiting.
	WebhookRatePerSecond float64
	WebhookRateBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		TwilioAccountSID:   getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
		SMSWebhookSecret:   getEnv("SMS_WEBHOOK_SECRET", ""),
		SMSSendTimeout:     getEnvAsDuration("SMS_SEND_TIMEOUT", 10*time.Second),
		SMSSendMaxAttempts: getEnvAsInt("SMS_SEND_MAX_ATTEMPTS", 3),
		OptOutConfirmation: getEnv("OPT_OUT_CONFIRMATION", "You have been unsubscribed and will not receive further messages."),
		AfterHoursSMSReply: getEnv("AFTER_HOURS_SMS_REPLY", "Thanks for reaching out! We're currently closed, but we'll get back to you first thing during business hours."),
		DisabledChannelSMS: getEnv("DISABLED_CHANNEL_SMS_REPLY", "Thanks for your message! A member of our team will follow up with you shortly."),

		SalesVoiceBearerToken: getEnv("SALES_VOICE_BEARER_TOKEN", ""),

		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		SMSReplyMaxTokens:   getEnvAsInt("SMS_REPLY_MAX_TOKENS", 300),
		VoiceReplyMaxTokens: getEnvAsInt("VOICE_REPLY_MAX_TOKENS", 150),
		SummaryMaxTokens:    getEnvAsInt("SUMMARY_MAX_TOKENS", 120),
		CompletionTimeout:   getEnvAsDuration("COMPLETION_TIMEOUT", 15*time.Second),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "LawnLoop"),

		WebhookRatePerSecond: getEnvAsFloat("WEBHOOK_RATE_PER_SECOND", 10),
		WebhookRateBurst:     getEnvAsInt("WEBHOOK_RATE_BURST", 30),
	}
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
