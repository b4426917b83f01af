package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/store"
)

// ConversationStore implements store.ConversationStore on Postgres.
//
// ClaimAgentRef relies on Postgres executing the conditional UPDATE as one
// atomic statement; under concurrent claimers exactly one sees rows=1.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) Create(ctx context.Context, c *store.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.Must(uuid.NewV7())
	}
	if c.Target == "" {
		c.Target = "letta"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, office_id, scope, target, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())`,
		c.ID, c.OfficeID, c.Scope, c.Target,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *ConversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	var (
		c        store.Conversation
		agentRef sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, office_id, scope, agent_ref, target, created_at, updated_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.OfficeID, &c.Scope, &agentRef, &c.Target, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.AgentRef = agentRef.String
	return &c, nil
}

func (s *ConversationStore) AgentRef(ctx context.Context, id uuid.UUID) (string, error) {
	var ref sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_ref FROM conversations WHERE id = $1`, id,
	).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get agent ref: %w", err)
	}
	return ref.String, nil
}

func (s *ConversationStore) ClaimAgentRef(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET agent_ref = $1, updated_at = now()
		 WHERE id = $2 AND agent_ref IS NULL`, ref, id,
	)
	if err != nil {
		return false, fmt.Errorf("claim agent ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim agent ref: rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *ConversationStore) SpecialistRef(ctx context.Context, id uuid.UUID, role string) (string, error) {
	var ref string
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_ref FROM specialist_agents WHERE conversation_id = $1 AND role = $2`,
		id, role,
	).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get specialist ref: %w", err)
	}
	return ref, nil
}

func (s *ConversationStore) ClaimSpecialistRef(ctx context.Context, id uuid.UUID, role, ref string) (bool, error) {
	// First insert wins; losers see rows=0 and re-read the winner's ref.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO specialist_agents (conversation_id, role, agent_ref, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (conversation_id, role) DO NOTHING`,
		id, role, ref,
	)
	if err != nil {
		return false, fmt.Errorf("claim specialist ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim specialist ref: rows affected: %w", err)
	}
	return n == 1, nil
}
