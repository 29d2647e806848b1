package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCallNotFound is returned when a provider call id has no row.
var ErrCallNotFound = errors.New("registry: call not found")

// Querier is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists leads, conversations, messages, and calls in Postgres.
//
// All upserts rely on database uniqueness constraints plus ON CONFLICT
// resolution rather than read-then-write, because providers redeliver
// webhooks and multiple instances process overlapping deliveries.
type Store struct {
	pool Querier
}

// NewStore initializes a store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("registry: pgx pool required")
	}
	return &Store{pool: pool}
}

// NewStoreWithQuerier is used by tests to inject a mock querier.
func NewStoreWithQuerier(q Querier) *Store {
	if q == nil {
		panic("registry: querier required")
	}
	return &Store{pool: q}
}

// UpsertLead selects-or-inserts the lead for (tenant, phone) and applies the
// patch. Empty patch fields never overwrite stored values, and do_not_contact
// never flips back to false through this path.
func (s *Store) UpsertLead(ctx context.Context, tenantID, phone string, patch LeadPatch) (*Lead, error) {
	query := `
		INSERT INTO leads (id, tenant_id, phone, name, source, do_not_contact)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, phone) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), leads.name),
			source = COALESCE(NULLIF(EXCLUDED.source, ''), leads.source),
			do_not_contact = leads.do_not_contact OR EXCLUDED.do_not_contact,
			updated_at = now()
		RETURNING id, tenant_id, phone, COALESCE(name, ''), COALESCE(source, ''), do_not_contact, created_at, updated_at
	`
	var lead Lead
	err := s.pool.QueryRow(ctx, query,
		uuid.New(), tenantID, phone, patch.Name, patch.Source, patch.DoNotContact,
	).Scan(
		&lead.ID,
		&lead.TenantID,
		&lead.Phone,
		&lead.Name,
		&lead.Source,
		&lead.DoNotContact,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("registry: upsert lead: %w", err)
	}
	return &lead, nil
}

// UpsertConversation selects-or-inserts the conversation for the four-part
// key. first_inbound_at is set on first creation and backfilled on later
// inbound events if a pre-existing row still has it null; it never changes
// once set.
func (s *Store) UpsertConversation(ctx context.Context, tenantID, leadID, phoneNumberID, channel string) (*Conversation, error) {
	query := `
		INSERT INTO conversations (id, tenant_id, lead_id, phone_number_id, channel, first_inbound_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tenant_id, lead_id, phone_number_id, channel) DO UPDATE
		SET first_inbound_at = COALESCE(conversations.first_inbound_at, EXCLUDED.first_inbound_at),
			updated_at = now()
		RETURNING id, tenant_id, lead_id, phone_number_id, channel, first_inbound_at, first_response_at, updated_at
	`
	var conv Conversation
	err := s.pool.QueryRow(ctx, query,
		uuid.New(), tenantID, leadID, phoneNumberID, channel,
	).Scan(
		&conv.ID,
		&conv.TenantID,
		&conv.LeadID,
		&conv.PhoneNumberID,
		&conv.Channel,
		&conv.FirstInboundAt,
		&conv.FirstResponseAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("registry: upsert conversation: %w", err)
	}
	return &conv, nil
}

// InsertMessage appends a message to a conversation.
func (s *Store) InsertMessage(ctx context.Context, conversationID, direction, body, providerRef string) (string, error) {
	id := uuid.New()
	query := `
		INSERT INTO messages (id, conversation_id, direction, body, provider_ref)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`
	if _, err := s.pool.Exec(ctx, query, id, conversationID, direction, body, providerRef); err != nil {
		return "", fmt.Errorf("registry: insert message: %w", err)
	}
	return id.String(), nil
}

// RecentMessages returns up to limit most recent messages on the
// conversation, ordered oldest-first for prompt assembly.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT id, conversation_id, direction, body, COALESCE(provider_ref, ''), created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: recent messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Direction, &msg.Body, &msg.ProviderRef, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("registry: scan message: %w", err)
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate messages: %w", err)
	}

	oldestFirst := make([]Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		oldestFirst = append(oldestFirst, newestFirst[i])
	}
	return oldestFirst, nil
}

// MarkFirstResponse stamps first_response_at if it is still null. The guard
// runs at write time so two rapid-fire deliveries cannot both win; returns
// true only for the write that set the timestamp.
func (s *Store) MarkFirstResponse(ctx context.Context, conversationID string, at time.Time) (bool, error) {
	query := `
		UPDATE conversations
		SET first_response_at = $2, updated_at = now()
		WHERE id = $1 AND first_response_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, conversationID, at)
	if err != nil {
		return false, fmt.Errorf("registry: mark first response: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// UpsertCall selects-or-inserts the call row for a provider call id.
// Redelivered call webhooks land on the existing row.
func (s *Store) UpsertCall(ctx context.Context, conversationID, direction, providerCallID, status string) (*Call, error) {
	query := `
		INSERT INTO calls (id, conversation_id, direction, provider_call_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (provider_call_id) DO UPDATE
		SET status = EXCLUDED.status
		RETURNING id, conversation_id, direction, provider_call_id, status,
			COALESCE(transcript_text, ''), COALESCE(summary_text, ''), COALESCE(recording_url, ''),
			started_at, ended_at
	`
	var call Call
	err := s.pool.QueryRow(ctx, query,
		uuid.New(), conversationID, direction, providerCallID, status,
	).Scan(
		&call.ID,
		&call.ConversationID,
		&call.Direction,
		&call.ProviderCallID,
		&call.Status,
		&call.TranscriptText,
		&call.SummaryText,
		&call.RecordingURL,
		&call.StartedAt,
		&call.EndedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("registry: upsert call: %w", err)
	}
	return &call, nil
}

// AppendCallTranscript appends text to the call's running transcript and
// returns the full transcript so far.
func (s *Store) AppendCallTranscript(ctx context.Context, providerCallID, text string) (string, error) {
	query := `
		UPDATE calls
		SET transcript_text = COALESCE(transcript_text, '') || $2
		WHERE provider_call_id = $1
		RETURNING transcript_text
	`
	var transcript string
	if err := s.pool.QueryRow(ctx, query, providerCallID, text).Scan(&transcript); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrCallNotFound
		}
		return "", fmt.Errorf("registry: append call transcript: %w", err)
	}
	return transcript, nil
}

// FinalizeCall transitions the call to a terminal status, recording the
// summary, optional recording URL, and end time.
func (s *Store) FinalizeCall(ctx context.Context, providerCallID, status, summary, recordingURL string, endedAt time.Time) error {
	query := `
		UPDATE calls
		SET status = $2,
			summary_text = COALESCE(NULLIF($3, ''), summary_text),
			recording_url = COALESCE(NULLIF($4, ''), recording_url),
			ended_at = $5
		WHERE provider_call_id = $1
	`
	ct, err := s.pool.Exec(ctx, query, providerCallID, status, summary, recordingURL, endedAt)
	if err != nil {
		return fmt.Errorf("registry: finalize call: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrCallNotFound
	}
	return nil
}
