package directory

import "time"

// PhoneNumberStatus values for provisioned numbers.
const (
	NumberStatusActive   = "active"
	NumberStatusReleased = "released"
)

// PhoneNumber is a provisioned inbound number owned by a tenant.
type PhoneNumber struct {
	ID       string `json:"id"`
	E164     string `json:"e164"`
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
}

// Tenant is a landscaping company account.
type Tenant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerEmail string    `json:"owner_email"`
	CreatedAt  time.Time `json:"created_at"`
}

// Settings holds the per-tenant toggles and business-hours window consulted
// by the webhook engine. Read-only from this engine's perspective.
type Settings struct {
	TenantID              string `json:"tenant_id"`
	AISMSEnabled          bool   `json:"ai_sms_enabled"`
	AICallsEnabled        bool   `json:"ai_calls_enabled"`
	CallForwardingEnabled bool   `json:"call_forwarding_enabled"`
	ForwardPhone          string `json:"forward_phone,omitempty"`
	BusinessHoursStart    string `json:"business_hours_start"`
	BusinessHoursEnd      string `json:"business_hours_end"`
	BusinessHoursTimezone string `json:"business_hours_timezone"`
}

// Route is the result of resolving an inbound destination number: the number
// row, its owning tenant, and that tenant's settings.
type Route struct {
	Number   PhoneNumber
	Tenant   Tenant
	Settings Settings
}
