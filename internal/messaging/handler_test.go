package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lawnloop/lawnloop-platform/internal/directory"
	"github.com/lawnloop/lawnloop-platform/internal/optout"
	"github.com/lawnloop/lawnloop-platform/internal/policy"
	"github.com/lawnloop/lawnloop-platform/internal/registry"
	"github.com/lawnloop/lawnloop-platform/internal/reply"
)

type fakeStore struct {
	leads         map[string]*registry.Lead
	messages      []registry.Message
	firstResponse map[string]time.Time
	upsertErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		leads:         map[string]*registry.Lead{},
		firstResponse: map[string]time.Time{},
	}
}

func (s *fakeStore) UpsertLead(_ context.Context, tenantID, phone string, patch registry.LeadPatch) (*registry.Lead, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	key := tenantID + ":" + phone
	lead, ok := s.leads[key]
	if !ok {
		now := time.Now()
		lead = &registry.Lead{
			ID:        "lead-" + phone,
			TenantID:  tenantID,
			Phone:     phone,
			Source:    patch.Source,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.leads[key] = lead
	} else {
		lead.UpdatedAt = lead.UpdatedAt.Add(time.Second)
	}
	if patch.DoNotContact {
		lead.DoNotContact = true
	}
	return lead, nil
}

func (s *fakeStore) UpsertConversation(_ context.Context, tenantID, leadID, phoneNumberID, channel string) (*registry.Conversation, error) {
	return &registry.Conversation{
		ID:            "conv-" + leadID + "-" + channel,
		TenantID:      tenantID,
		LeadID:        leadID,
		PhoneNumberID: phoneNumberID,
		Channel:       channel,
	}, nil
}

func (s *fakeStore) InsertMessage(_ context.Context, conversationID, direction, body, providerRef string) (string, error) {
	s.messages = append(s.messages, registry.Message{
		ConversationID: conversationID,
		Direction:      direction,
		Body:           body,
		ProviderRef:    providerRef,
	})
	return "msg-1", nil
}

func (s *fakeStore) RecentMessages(_ context.Context, conversationID string, _ int) ([]registry.Message, error) {
	var out []registry.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkFirstResponse(_ context.Context, conversationID string, at time.Time) (bool, error) {
	if _, ok := s.firstResponse[conversationID]; ok {
		return false, nil
	}
	s.firstResponse[conversationID] = at
	return true, nil
}

func (s *fakeStore) outbound() []registry.Message {
	var out []registry.Message
	for _, m := range s.messages {
		if m.Direction == registry.DirectionOutbound {
			out = append(out, m)
		}
	}
	return out
}

type fakeSender struct {
	sent []OutboundSMS
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg OutboundSMS) (SendResult, error) {
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return SendResult{}, f.err
	}
	return SendResult{ProviderRef: "SM-out", Status: "queued"}, nil
}

type fakeClaimer struct {
	seen map[string]bool
	err  error
}

func (f *fakeClaimer) ClaimEvent(_ context.Context, provider, eventID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := provider + ":" + eventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type stubGenerator struct {
	reply reply.Reply
}

func (s *stubGenerator) SMSReply(context.Context, string, []registry.Message, string) reply.Reply {
	return s.reply
}

func testRoute(settings directory.Settings) *directory.Route {
	settings.TenantID = "tenant-1"
	return &directory.Route{
		Number:   directory.PhoneNumber{ID: "num-1", E164: "+15550001111", TenantID: "tenant-1", Status: directory.NumberStatusActive},
		Tenant:   directory.Tenant{ID: "tenant-1", Name: "GreenScape Lawns", OwnerEmail: "owner@greenscape.test"},
		Settings: settings,
	}
}

func openSettings() directory.Settings {
	return directory.Settings{
		AISMSEnabled:          true,
		BusinessHoursStart:    "00:00",
		BusinessHoursEnd:      "00:00",
		BusinessHoursTimezone: "UTC",
	}
}

func newTestHandler(route *directory.Route, store *fakeStore, sender *fakeSender, claims *fakeClaimer, gen smsReplyGenerator) *Handler {
	resolver := directory.NewStaticResolver(map[string]*directory.Route{
		route.Number.E164: route,
	})
	cfg := HandlerConfig{
		WebhookSecret:      "s3cret",
		OptOutConfirmation: "You have been unsubscribed. Reply START to resume.",
		AfterHoursReply:    "We're closed right now, but we'll text you back in the morning.",
		DisabledReply:      "Please call us directly and we'll be happy to help.",
	}
	return NewHandler(cfg, resolver, store, claims, optout.NewDetector(), policy.NewGate(nil), gen, sender, nil, nil, nil)
}

func postSMS(t *testing.T, h *Handler, secret string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	target := "/webhooks/sms"
	if secret != "" {
		target += "?secret=" + secret
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.TwilioWebhook(rec, req)
	return rec
}

func quoteForm() url.Values {
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "+15557772222")
	form.Set("To", "+15550001111")
	form.Set("Body", "Hi, need a quote for a backyard patio")
	return form
}

func TestTwilioWebhookRepliesAndPersists(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	gen := &stubGenerator{reply: reply.Reply{Text: "Happy to help with that patio!", Source: reply.SourceGenerated}}
	h := newTestHandler(testRoute(openSettings()), store, sender, &fakeClaimer{}, gen)

	rec := postSMS(t, h, "s3cret", quoteForm())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != emptyTwiML {
		t.Errorf("body = %q, want empty twiml", got)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	if sender.sent[0].Body != "Happy to help with that patio!" {
		t.Errorf("sent body = %q", sender.sent[0].Body)
	}
	if sender.sent[0].From != "+15550001111" || sender.sent[0].To != "+15557772222" {
		t.Errorf("send addressed %s -> %s", sender.sent[0].From, sender.sent[0].To)
	}
	out := store.outbound()
	if len(out) != 1 {
		t.Fatalf("outbound rows = %d, want 1", len(out))
	}
	if out[0].ProviderRef != "SM-out" {
		t.Errorf("outbound provider ref = %q", out[0].ProviderRef)
	}
	if len(store.firstResponse) != 1 {
		t.Errorf("first response not marked")
	}
}

func TestTwilioWebhookRejectsBadSecret(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	h := newTestHandler(testRoute(openSettings()), store, sender, &fakeClaimer{}, &stubGenerator{})

	rec := postSMS(t, h, "wrong", quoteForm())

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(sender.sent))
	}
}

func TestTwilioWebhookIgnoresDuplicateDelivery(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	gen := &stubGenerator{reply: reply.Reply{Text: "hi", Source: reply.SourceGenerated}}
	h := newTestHandler(testRoute(openSettings()), store, sender, &fakeClaimer{}, gen)

	postSMS(t, h, "s3cret", quoteForm())
	rec := postSMS(t, h, "s3cret", quoteForm())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d messages after redelivery, want 1", len(sender.sent))
	}
}

func TestTwilioWebhookOptOut(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	h := newTestHandler(testRoute(openSettings()), store, sender, &fakeClaimer{}, &stubGenerator{})

	form := quoteForm()
	form.Set("Body", "STOP")
	rec := postSMS(t, h, "s3cret", form)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	lead := store.leads["tenant-1:+15557772222"]
	if lead == nil || !lead.DoNotContact {
		t.Fatalf("lead not flagged do_not_contact: %+v", lead)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].Body, "unsubscribed") {
		t.Errorf("expected single opt-out confirmation, got %+v", sender.sent)
	}
	if len(store.messages) != 0 {
		t.Errorf("opt-out persisted %d message rows, want none", len(store.messages))
	}
	if len(store.firstResponse) != 0 {
		t.Errorf("opt-out confirmation stamped first_response_at")
	}

	// Any later inbound from the same lead is silenced.
	form.Set("MessageSid", "SM124")
	form.Set("Body", "actually, about that quote")
	postSMS(t, h, "s3cret", form)
	if len(sender.sent) != 1 {
		t.Errorf("opted-out lead received a reply: %+v", sender.sent)
	}
}

func TestTwilioWebhookOptOutRequiresExactPhrase(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	gen := &stubGenerator{reply: reply.Reply{Text: "we can tone it down", Source: reply.SourceGenerated}}
	h := newTestHandler(testRoute(openSettings()), store, sender, &fakeClaimer{}, gen)

	form := quoteForm()
	form.Set("Body", "please stop spamming me")
	postSMS(t, h, "s3cret", form)

	lead := store.leads["tenant-1:+15557772222"]
	if lead == nil {
		t.Fatal("lead not created")
	}
	if lead.DoNotContact {
		t.Error("non-exact phrase triggered opt-out")
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d messages, want normal reply", len(sender.sent))
	}
}

func TestTwilioWebhookAfterHours(t *testing.T) {
	settings := openSettings()
	settings.BusinessHoursStart = "08:00"
	settings.BusinessHoursEnd = "18:00"
	settings.BusinessHoursTimezone = "UTC"

	store := newFakeStore()
	sender := &fakeSender{}
	h := newTestHandler(testRoute(settings), store, sender, &fakeClaimer{}, &stubGenerator{})
	h.gate = policy.NewGate(nil).WithClock(func() time.Time {
		return time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	})

	postSMS(t, h, "s3cret", quoteForm())

	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].Body, "closed") {
		t.Errorf("expected after-hours reply, got %+v", sender.sent)
	}
}

func TestTwilioWebhookDisabledChannel(t *testing.T) {
	settings := openSettings()
	settings.AISMSEnabled = false

	store := newFakeStore()
	sender := &fakeSender{}
	h := newTestHandler(testRoute(settings), store, sender, &fakeClaimer{}, &stubGenerator{})

	postSMS(t, h, "s3cret", quoteForm())

	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].Body, "call us") {
		t.Errorf("expected canned disabled-channel reply, got %+v", sender.sent)
	}
}

func TestTwilioWebhookUnknownNumberNoops(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	h := newTestHandler(testRoute(openSettings()), store, sender, &fakeClaimer{}, &stubGenerator{})

	form := quoteForm()
	form.Set("To", "+19998887777")
	rec := postSMS(t, h, "s3cret", form)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(store.messages) != 0 || len(sender.sent) != 0 {
		t.Errorf("unknown number caused side effects")
	}
}

func TestTwilioWebhookPersistsOutboundWhenSendFails(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{err: errors.New("boom")}
	gen := &stubGenerator{reply: reply.Reply{Text: "hello there", Source: reply.SourceGenerated}}
	h := newTestHandler(testRoute(openSettings()), store, sender, &fakeClaimer{}, gen)

	rec := postSMS(t, h, "s3cret", quoteForm())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	out := store.outbound()
	if len(out) != 1 || out[0].Body != "hello there" {
		t.Fatalf("outbound row missing after send failure: %+v", out)
	}
	if out[0].ProviderRef != "" {
		t.Errorf("failed send recorded provider ref %q", out[0].ProviderRef)
	}
}

func TestTwilioWebhookAcksOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.New("db down")
	sender := &fakeSender{}
	h := newTestHandler(testRoute(openSettings()), store, sender, &fakeClaimer{}, &stubGenerator{})

	rec := postSMS(t, h, "s3cret", quoteForm())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even on persistence failure", rec.Code)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent a reply despite lead persistence failure")
	}
}
