package policy

import (
	"time"

	"github.com/lawnloop/lawnloop-platform/internal/directory"
	"github.com/lawnloop/lawnloop-platform/pkg/logging"
)

// Channel identifies an inbound communication channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// Action is the gate's verdict for an inbound contact.
type Action string

const (
	// ActionAIReply lets the AI reply pipeline handle the contact.
	ActionAIReply Action = "ai_reply"
	// ActionAfterHours responds with the canned after-hours behavior.
	ActionAfterHours Action = "after_hours"
	// ActionForward forwards the contact to the tenant's configured number.
	ActionForward Action = "forward"
	// ActionCannedReply responds with a generic message or voicemail prompt
	// when the channel's AI feature is disabled and no forward is configured.
	ActionCannedReply Action = "canned_reply"
)

// Decision carries the gate verdict plus the forward target when relevant.
type Decision struct {
	Action       Action
	ForwardPhone string
}

// Gate evaluates per-tenant feature toggles and business hours.
type Gate struct {
	logger *logging.Logger
	now    func() time.Time
}

// NewGate constructs a policy gate. The clock is injectable for tests.
func NewGate(logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{logger: logger, now: time.Now}
}

// WithClock overrides the gate's clock. Test hook.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Evaluate returns the verdict for an inbound contact on the given channel.
// Toggle checks run before the hours check: a disabled channel is handled
// the same way at any time of day.
func (g *Gate) Evaluate(settings directory.Settings, channel Channel) Decision {
	enabled := settings.AISMSEnabled
	if channel == ChannelVoice {
		enabled = settings.AICallsEnabled
	}
	if !enabled {
		if settings.CallForwardingEnabled && settings.ForwardPhone != "" {
			return Decision{Action: ActionForward, ForwardPhone: settings.ForwardPhone}
		}
		return Decision{Action: ActionCannedReply}
	}

	hours, err := ParseBusinessHours(
		settings.BusinessHoursStart,
		settings.BusinessHoursEnd,
		settings.BusinessHoursTimezone,
	)
	if err != nil {
		// Fail open: treat unparsable settings as within hours.
		g.logger.Warn("unparsable business hours, failing open",
			"tenant_id", settings.TenantID,
			"error", err,
		)
		return Decision{Action: ActionAIReply}
	}
	if !hours.Within(g.now()) {
		return Decision{Action: ActionAfterHours}
	}
	return Decision{Action: ActionAIReply}
}
