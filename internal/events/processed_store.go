package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Provider labels for processed-event rows.
const (
	ProviderSMS        = "sms"
	ProviderVoice      = "voice"
	ProviderSalesVoice = "sales_voice"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records provider event ids that already produced side
// effects. Providers redeliver aggressively on timeout; the unique
// (provider, event_id) row is what keeps a redelivered webhook from sending
// a second reply. Database-level on purpose: multiple instances may process
// overlapping deliveries.
type ProcessedStore struct {
	pool rowQuerier
}

// NewProcessedStore initializes a store backed by pgxpool.
func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

// NewProcessedStoreWithQuerier is used by tests to inject a mock querier.
func NewProcessedStoreWithQuerier(q rowQuerier) *ProcessedStore {
	if q == nil {
		panic("events: querier required")
	}
	return &ProcessedStore{pool: q}
}

// ClaimEvent inserts the (provider, event id) pair and reports whether this
// delivery is the first one. A false return means another delivery of the
// same event already claimed it and the caller should acknowledge without
// side effects.
func (s *ProcessedStore) ClaimEvent(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: claim event: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
