package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lawnloop/lawnloop-platform/pkg/logging"
)

var twilioSendTracer = otel.Tracer("lawnloop.internal.messaging.twilio_send")

// OutboundSMS is one reply to deliver through the SMS provider.
type OutboundSMS struct {
	TenantID string
	To       string
	From     string
	Body     string
}

// SendResult carries provider-assigned delivery metadata.
type SendResult struct {
	ProviderRef string
	Status      string
}

// SMSSender delivers outbound SMS messages.
type SMSSender interface {
	Send(ctx context.Context, msg OutboundSMS) (SendResult, error)
}

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID  string
	authToken   string
	maxAttempts int
	baseURL     string
	httpClient  *http.Client
	logger      *logging.Logger
}

// NewTwilioSender builds a sender with sane defaults.
func NewTwilioSender(accountSID, authToken string, timeout time.Duration, maxAttempts int, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &TwilioSender{
		accountSID:  accountSID,
		authToken:   authToken,
		maxAttempts: maxAttempts,
		baseURL:     "https://api.twilio.com",
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

var _ SMSSender = (*TwilioSender)(nil)

// Send dispatches a single SMS, retrying transient failures.
func (s *TwilioSender) Send(ctx context.Context, msg OutboundSMS) (SendResult, error) {
	if s.accountSID == "" || s.authToken == "" {
		return SendResult{}, errors.New("messaging: twilio credentials missing")
	}
	if msg.To == "" || msg.From == "" {
		return SendResult{}, errors.New("messaging: to and from required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return SendResult{}, errors.New("messaging: body required")
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("lawnloop.tenant_id", msg.TenantID),
		attribute.String("lawnloop.to", msg.To),
	)

	payload := url.Values{}
	payload.Set("To", msg.To)
	payload.Set("From", msg.From)
	payload.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed struct {
					SID    string `json:"sid"`
					Status string `json:"status"`
				}
				_ = json.Unmarshal(body, &parsed)
				s.logger.Info("twilio sms sent", "tenant_id", msg.TenantID, "to", msg.To)
				return SendResult{ProviderRef: parsed.SID, Status: parsed.Status}, nil
			}
			lastErr = fmt.Errorf("twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
			// Don't retry non-rate-limit 4xx errors.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
				break
			}
		}

		if attempt < s.maxAttempts {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
	}
	return SendResult{}, lastErr
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
