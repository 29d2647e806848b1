package messaging

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// InboundSMS is the parsed form body of a provider SMS webhook.
type InboundSMS struct {
	MessageSid string
	From       string
	To         string
	Body       string
}

// ParseInboundSMS parses the form-encoded provider webhook request.
func ParseInboundSMS(r *http.Request) (*InboundSMS, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse form: %w", err)
	}
	return &InboundSMS{
		MessageSid: strings.TrimSpace(r.FormValue("MessageSid")),
		From:       strings.TrimSpace(r.FormValue("From")),
		To:         strings.TrimSpace(r.FormValue("To")),
		Body:       r.FormValue("Body"),
	}, nil
}

// CheckSharedSecret compares the webhook's secret query parameter against the
// configured value in constant time. An empty configured secret disables the
// check.
func CheckSharedSecret(r *http.Request, secret string) bool {
	if secret == "" {
		return true
	}
	presented := r.URL.Query().Get("secret")
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}
