package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNumberNotFound is returned when no active number owns the destination.
// Handlers treat this as a no-op, never as a provider-visible failure.
var ErrNumberNotFound = errors.New("directory: no active number for destination")

// Resolver maps an inbound destination number to its tenant and settings.
type Resolver interface {
	Resolve(ctx context.Context, toNumber string) (*Route, error)
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresResolver resolves numbers against the phone_numbers table.
type PostgresResolver struct {
	pool rowQuerier
}

// NewPostgresResolver initializes a resolver backed by pgxpool.
func NewPostgresResolver(pool *pgxpool.Pool) *PostgresResolver {
	if pool == nil {
		panic("directory: pgx pool required")
	}
	return &PostgresResolver{pool: pool}
}

// NewResolverWithQuerier is used by tests to inject a mock querier.
func NewResolverWithQuerier(q rowQuerier) *PostgresResolver {
	if q == nil {
		panic("directory: querier required")
	}
	return &PostgresResolver{pool: q}
}

// Resolve implements Resolver. The destination is normalized before lookup so
// providers may deliver 10-digit, 11-digit, or E.164 formats interchangeably.
func (r *PostgresResolver) Resolve(ctx context.Context, toNumber string) (*Route, error) {
	e164 := NormalizeE164(toNumber)
	if e164 == "" {
		return nil, ErrNumberNotFound
	}

	query := `
		SELECT pn.id, pn.e164, pn.tenant_id, pn.status,
			t.name, t.owner_email,
			ts.ai_sms_enabled, ts.ai_calls_enabled, ts.call_forwarding_enabled,
			COALESCE(ts.forward_phone, ''),
			ts.business_hours_start, ts.business_hours_end, ts.business_hours_timezone
		FROM phone_numbers pn
		JOIN tenants t ON t.id = pn.tenant_id
		JOIN tenant_settings ts ON ts.tenant_id = pn.tenant_id
		WHERE pn.e164 = $1 AND pn.status = 'active'
		LIMIT 1
	`

	var route Route
	err := r.pool.QueryRow(ctx, query, e164).Scan(
		&route.Number.ID,
		&route.Number.E164,
		&route.Number.TenantID,
		&route.Number.Status,
		&route.Tenant.Name,
		&route.Tenant.OwnerEmail,
		&route.Settings.AISMSEnabled,
		&route.Settings.AICallsEnabled,
		&route.Settings.CallForwardingEnabled,
		&route.Settings.ForwardPhone,
		&route.Settings.BusinessHoursStart,
		&route.Settings.BusinessHoursEnd,
		&route.Settings.BusinessHoursTimezone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNumberNotFound
		}
		return nil, fmt.Errorf("directory: resolve number: %w", err)
	}
	route.Tenant.ID = route.Number.TenantID
	route.Settings.TenantID = route.Number.TenantID
	return &route, nil
}

// StaticResolver maps sanitized phone numbers to routes. Used in tests and
// single-tenant development setups.
type StaticResolver struct {
	routes map[string]*Route
}

// NewStaticResolver constructs a resolver backed by an in-memory map.
func NewStaticResolver(routes map[string]*Route) *StaticResolver {
	normalized := make(map[string]*Route, len(routes))
	for raw, route := range routes {
		key := SanitizePhone(raw)
		if key == "" || route == nil {
			continue
		}
		normalized[key] = route
	}
	return &StaticResolver{routes: normalized}
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(ctx context.Context, toNumber string) (*Route, error) {
	if r == nil {
		return nil, ErrNumberNotFound
	}
	route, ok := r.routes[SanitizePhone(toNumber)]
	if !ok {
		return nil, ErrNumberNotFound
	}
	return route, nil
}
