package registry

import "time"

// Channel values for conversations.
const (
	ChannelSMS   = "sms"
	ChannelVoice = "voice"
)

// Direction values for messages and calls.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Call status values.
const (
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusForwarded  = "forwarded"
	CallStatusVoicemail  = "voicemail"
	CallStatusNoInput    = "no-input"
)

// Lead is a phone-number-identified prospect of a tenant, unique per
// (tenant_id, phone). Leads are never deleted, only flagged do_not_contact.
type Lead struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Phone        string    `json:"phone"`
	Name         string    `json:"name,omitempty"`
	Source       string    `json:"source,omitempty"`
	DoNotContact bool      `json:"do_not_contact"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LeadPatch is applied on upsert. Empty fields never overwrite existing
// values; DoNotContact only ever flips leads to true.
type LeadPatch struct {
	Name         string
	Source       string
	DoNotContact bool
}

// Conversation is one continuous thread with a lead over one channel,
// unique per (tenant_id, lead_id, phone_number_id, channel).
// FirstInboundAt and FirstResponseAt are write-once and feed the
// response-time funnel metrics.
type Conversation struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	LeadID          string     `json:"lead_id"`
	PhoneNumberID   string     `json:"phone_number_id"`
	Channel         string     `json:"channel"`
	FirstInboundAt  *time.Time `json:"first_inbound_at,omitempty"`
	FirstResponseAt *time.Time `json:"first_response_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Message is one SMS in a conversation. Append-only.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Direction      string    `json:"direction"`
	Body           string    `json:"body"`
	ProviderRef    string    `json:"provider_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Call is one voice call on a conversation. The transcript is appended
// in-place across turns, then finalized with a summary at call end.
type Call struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Direction      string     `json:"direction"`
	ProviderCallID string     `json:"provider_call_id"`
	Status         string     `json:"status"`
	TranscriptText string     `json:"transcript_text,omitempty"`
	SummaryText    string     `json:"summary_text,omitempty"`
	RecordingURL   string     `json:"recording_url,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}
