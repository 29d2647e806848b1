package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lawnloop/lawnloop-platform/internal/directory"
	"github.com/lawnloop/lawnloop-platform/internal/policy"
	"github.com/lawnloop/lawnloop-platform/internal/registry"
	"github.com/lawnloop/lawnloop-platform/internal/reply"
)

type fakeCallStore struct {
	transcripts map[string]string
	finalized   map[string]*registry.Call
	firstMarked map[string]bool
}

func newFakeCallStore() *fakeCallStore {
	return &fakeCallStore{
		transcripts: map[string]string{},
		finalized:   map[string]*registry.Call{},
		firstMarked: map[string]bool{},
	}
}

func (s *fakeCallStore) UpsertLead(_ context.Context, tenantID, phone string, patch registry.LeadPatch) (*registry.Lead, error) {
	return &registry.Lead{ID: "lead-" + phone, TenantID: tenantID, Phone: phone, Source: patch.Source}, nil
}

func (s *fakeCallStore) UpsertConversation(_ context.Context, tenantID, leadID, phoneNumberID, channel string) (*registry.Conversation, error) {
	return &registry.Conversation{ID: "conv-" + leadID, TenantID: tenantID, LeadID: leadID, PhoneNumberID: phoneNumberID, Channel: channel}, nil
}

func (s *fakeCallStore) UpsertCall(_ context.Context, conversationID, direction, providerCallID, status string) (*registry.Call, error) {
	return &registry.Call{ID: "call-1", ConversationID: conversationID, Direction: direction, ProviderCallID: providerCallID, Status: status}, nil
}

func (s *fakeCallStore) AppendCallTranscript(_ context.Context, providerCallID, text string) (string, error) {
	s.transcripts[providerCallID] += text
	return s.transcripts[providerCallID], nil
}

func (s *fakeCallStore) FinalizeCall(_ context.Context, providerCallID, status, summary, recordingURL string, endedAt time.Time) error {
	s.finalized[providerCallID] = &registry.Call{
		ProviderCallID: providerCallID,
		Status:         status,
		SummaryText:    summary,
		RecordingURL:   recordingURL,
		EndedAt:        &endedAt,
	}
	return nil
}

func (s *fakeCallStore) MarkFirstResponse(_ context.Context, conversationID string, _ time.Time) (bool, error) {
	if s.firstMarked[conversationID] {
		return false, nil
	}
	s.firstMarked[conversationID] = true
	return true, nil
}

type fakeClaimer struct {
	seen map[string]bool
}

func (f *fakeClaimer) ClaimEvent(_ context.Context, provider, eventID string) (bool, error) {
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

type stubVoiceGenerator struct {
	reply   reply.Reply
	summary reply.Reply
}

func (s *stubVoiceGenerator) VoiceReply(context.Context, string, string, string) reply.Reply {
	return s.reply
}

func (s *stubVoiceGenerator) SummarizeCall(context.Context, string, string) reply.Reply {
	return s.summary
}

type recordedHandoff struct {
	tenant     directory.Tenant
	phone      string
	transcript string
}

type fakeNotifier struct {
	handoffs []recordedHandoff
}

func (f *fakeNotifier) Handoff(_ context.Context, tenant directory.Tenant, phone, transcript string) error {
	f.handoffs = append(f.handoffs, recordedHandoff{tenant: tenant, phone: phone, transcript: transcript})
	return nil
}

func voiceRoute(settings directory.Settings) *directory.Route {
	settings.TenantID = "tenant-1"
	return &directory.Route{
		Number:   directory.PhoneNumber{ID: "num-1", E164: "+15550001111", TenantID: "tenant-1", Status: directory.NumberStatusActive},
		Tenant:   directory.Tenant{ID: "tenant-1", Name: "GreenScape Lawns", OwnerEmail: "owner@greenscape.test"},
		Settings: settings,
	}
}

func voiceSettings() directory.Settings {
	return directory.Settings{
		AICallsEnabled:        true,
		BusinessHoursStart:    "00:00",
		BusinessHoursEnd:      "00:00",
		BusinessHoursTimezone: "UTC",
	}
}

func newVoiceHandler(route *directory.Route, store *fakeCallStore, gen *stubVoiceGenerator, notifier *fakeNotifier) *Handler {
	resolver := directory.NewStaticResolver(map[string]*directory.Route{
		route.Number.E164: route,
	})
	var n handoffNotifier
	if notifier != nil {
		n = notifier
	}
	return NewHandler("https://app.lawnloop.test", resolver, store, &fakeClaimer{}, policy.NewGate(nil), gen, n, nil, nil)
}

func postVoice(t *testing.T, h *Handler, turn string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	target := "/webhooks/voice"
	if turn != "" {
		target += "?turn=" + turn
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.TwilioWebhook(rec, req)
	return rec
}

func callForm(callSid, speech string) url.Values {
	form := url.Values{}
	form.Set("CallSid", callSid)
	form.Set("From", "+15557772222")
	form.Set("To", "+15550001111")
	if speech != "" {
		form.Set("SpeechResult", speech)
	}
	return form
}

func TestVoiceGreetingTurn(t *testing.T) {
	store := newFakeCallStore()
	gen := &stubVoiceGenerator{}
	h := newVoiceHandler(voiceRoute(voiceSettings()), store, gen, nil)

	rec := postVoice(t, h, "", callForm("CA1", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Thanks for calling GreenScape Lawns") {
		t.Errorf("greeting missing tenant name:\n%s", body)
	}
	if !strings.Contains(body, "turn=1") {
		t.Errorf("gather does not advance to turn 1:\n%s", body)
	}
}

func TestVoiceMidTurnRepliesAndGathersNext(t *testing.T) {
	store := newFakeCallStore()
	gen := &stubVoiceGenerator{reply: reply.Reply{Text: "We can mow weekly starting Tuesday.", Source: reply.SourceGenerated}}
	h := newVoiceHandler(voiceRoute(voiceSettings()), store, gen, nil)

	rec := postVoice(t, h, "1", callForm("CA1", "do you do weekly mowing"))

	body := rec.Body.String()
	if !strings.Contains(body, "We can mow weekly starting Tuesday.") {
		t.Errorf("reply not spoken:\n%s", body)
	}
	if !strings.Contains(body, "turn=2") {
		t.Errorf("gather does not advance to turn 2:\n%s", body)
	}
	transcript := store.transcripts["CA1"]
	if !strings.Contains(transcript, "Customer: do you do weekly mowing") || !strings.Contains(transcript, "AI: We can mow weekly") {
		t.Errorf("transcript = %q", transcript)
	}
	if !store.firstMarked["conv-lead-+15557772222"] {
		t.Error("first response not marked")
	}
}

func TestVoiceFinalTurnSummarizesAndHangsUp(t *testing.T) {
	store := newFakeCallStore()
	gen := &stubVoiceGenerator{
		reply:   reply.Reply{Text: "Great, we'll send a quote.", Source: reply.SourceGenerated},
		summary: reply.Reply{Text: "Caller wants a patio quote.", Source: reply.SourceGenerated},
	}
	h := newVoiceHandler(voiceRoute(voiceSettings()), store, gen, nil)

	rec := postVoice(t, h, "2", callForm("CA1", "send me a quote"))

	body := rec.Body.String()
	if !strings.Contains(body, "<Hangup") {
		t.Errorf("final turn did not hang up:\n%s", body)
	}
	if strings.Contains(body, "<Gather") {
		t.Errorf("final turn gathered more speech:\n%s", body)
	}
	final := store.finalized["CA1"]
	if final == nil || final.Status != registry.CallStatusCompleted {
		t.Fatalf("call not finalized completed: %+v", final)
	}
	if final.SummaryText != "Caller wants a patio quote." {
		t.Errorf("summary = %q", final.SummaryText)
	}
}

func TestVoiceHandoffForwardsWhenConfigured(t *testing.T) {
	settings := voiceSettings()
	settings.CallForwardingEnabled = true
	settings.ForwardPhone = "+15553334444"

	store := newFakeCallStore()
	notifier := &fakeNotifier{}
	h := newVoiceHandler(voiceRoute(settings), store, &stubVoiceGenerator{}, notifier)

	rec := postVoice(t, h, "1", callForm("CA1", "can I speak to someone"))

	body := rec.Body.String()
	if !strings.Contains(body, "<Dial>+15553334444</Dial>") {
		t.Errorf("handoff did not dial forward number:\n%s", body)
	}
	final := store.finalized["CA1"]
	if final == nil || final.Status != registry.CallStatusForwarded {
		t.Errorf("call not finalized forwarded: %+v", final)
	}
	if len(notifier.handoffs) != 1 || notifier.handoffs[0].phone != "+15557772222" {
		t.Errorf("handoff notification = %+v", notifier.handoffs)
	}
}

func TestVoiceHandoffFallsBackToVoicemail(t *testing.T) {
	store := newFakeCallStore()
	h := newVoiceHandler(voiceRoute(voiceSettings()), store, &stubVoiceGenerator{}, nil)

	rec := postVoice(t, h, "1", callForm("CA1", "I want a real person"))

	body := rec.Body.String()
	if !strings.Contains(body, "<Record") {
		t.Errorf("handoff without forward did not offer voicemail:\n%s", body)
	}
}

func TestVoiceNoInputEndsCall(t *testing.T) {
	store := newFakeCallStore()
	h := newVoiceHandler(voiceRoute(voiceSettings()), store, &stubVoiceGenerator{}, nil)

	rec := postVoice(t, h, "1", callForm("CA1", ""))

	body := rec.Body.String()
	if !strings.Contains(body, "<Hangup") {
		t.Errorf("silent turn did not hang up:\n%s", body)
	}
	final := store.finalized["CA1"]
	if final == nil || final.Status != registry.CallStatusNoInput {
		t.Errorf("call not finalized no-input: %+v", final)
	}
}

func TestVoiceNoInputForwardsWhenConfigured(t *testing.T) {
	settings := voiceSettings()
	settings.CallForwardingEnabled = true
	settings.ForwardPhone = "+15553334444"

	store := newFakeCallStore()
	h := newVoiceHandler(voiceRoute(settings), store, &stubVoiceGenerator{}, nil)

	rec := postVoice(t, h, "1", callForm("CA1", ""))

	body := rec.Body.String()
	if !strings.Contains(body, "<Dial>+15553334444</Dial>") {
		t.Errorf("silent turn did not forward configured number:\n%s", body)
	}
	if strings.Contains(body, "<Hangup") {
		t.Errorf("silent turn hung up instead of forwarding:\n%s", body)
	}
	final := store.finalized["CA1"]
	if final == nil || final.Status != registry.CallStatusForwarded {
		t.Errorf("call not finalized forwarded: %+v", final)
	}
}

func TestVoiceDisabledChannelOffersVoicemail(t *testing.T) {
	settings := voiceSettings()
	settings.AICallsEnabled = false

	store := newFakeCallStore()
	h := newVoiceHandler(voiceRoute(settings), store, &stubVoiceGenerator{}, nil)

	rec := postVoice(t, h, "", callForm("CA1", ""))

	body := rec.Body.String()
	if !strings.Contains(body, "<Record") {
		t.Errorf("disabled channel did not offer voicemail:\n%s", body)
	}
}

func TestVoiceRecordingCallbackFinalizesVoicemail(t *testing.T) {
	store := newFakeCallStore()
	h := newVoiceHandler(voiceRoute(voiceSettings()), store, &stubVoiceGenerator{}, nil)

	form := callForm("CA1", "")
	form.Set("RecordingUrl", "https://api.twilio.test/recordings/RE1")
	rec := postVoice(t, h, "0", form)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	final := store.finalized["CA1"]
	if final == nil || final.Status != registry.CallStatusVoicemail {
		t.Fatalf("voicemail not finalized: %+v", final)
	}
	if final.RecordingURL != "https://api.twilio.test/recordings/RE1" {
		t.Errorf("recording url = %q", final.RecordingURL)
	}
}

func TestVoiceDuplicateTurnHasNoSideEffects(t *testing.T) {
	store := newFakeCallStore()
	gen := &stubVoiceGenerator{reply: reply.Reply{Text: "reply one", Source: reply.SourceGenerated}}
	h := newVoiceHandler(voiceRoute(voiceSettings()), store, gen, nil)

	postVoice(t, h, "1", callForm("CA1", "first delivery"))
	before := store.transcripts["CA1"]
	rec := postVoice(t, h, "1", callForm("CA1", "first delivery"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.transcripts["CA1"] != before {
		t.Errorf("redelivered turn appended transcript again")
	}
	if !strings.Contains(rec.Body.String(), "<Gather") {
		t.Errorf("redelivered turn did not re-prompt:\n%s", rec.Body.String())
	}
}

func TestVoiceUnknownNumberHangsUp(t *testing.T) {
	store := newFakeCallStore()
	h := newVoiceHandler(voiceRoute(voiceSettings()), store, &stubVoiceGenerator{}, nil)

	form := callForm("CA1", "")
	form.Set("To", "+19998887777")
	rec := postVoice(t, h, "", form)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Hangup") {
		t.Errorf("unknown number did not hang up:\n%s", rec.Body.String())
	}
}
