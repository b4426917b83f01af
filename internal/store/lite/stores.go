package lite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/store"
)

// ConversationStore implements store.ConversationStore on sqlite.
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
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, office_id, scope, target, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.OfficeID, c.Scope, c.Target, now, now,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *ConversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	var (
		c        store.Conversation
		rawID    string
		agentRef sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, office_id, scope, agent_ref, target, created_at, updated_at
		 FROM conversations WHERE id = ?`, id.String(),
	).Scan(&rawID, &c.OfficeID, &c.Scope, &agentRef, &c.Target, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse conversation id: %w", err)
	}
	c.AgentRef = agentRef.String
	return &c, nil
}

func (s *ConversationStore) AgentRef(ctx context.Context, id uuid.UUID) (string, error) {
	var ref sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_ref FROM conversations WHERE id = ?`, id.String(),
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
		`UPDATE conversations SET agent_ref = ?, updated_at = ?
		 WHERE id = ? AND agent_ref IS NULL`,
		ref, time.Now(), id.String(),
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
		`SELECT agent_ref FROM specialist_agents WHERE conversation_id = ? AND role = ?`,
		id.String(), role,
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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO specialist_agents (conversation_id, role, agent_ref, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (conversation_id, role) DO NOTHING`,
		id.String(), role, ref, time.Now(),
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

// MessageStore implements store.MessageStore on sqlite.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Append(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, model, prompt_tokens, response_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.ConversationID.String(), m.Role, m.Content, m.Model,
		m.PromptTokens, m.ResponseTokens, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ToolServerStore implements store.ToolServerStore on sqlite.
type ToolServerStore struct {
	db *sql.DB
}

func NewToolServerStore(db *sql.DB) *ToolServerStore {
	return &ToolServerStore{db: db}
}

func (s *ToolServerStore) ListForOffice(ctx context.Context, officeID, scope string) ([]store.ToolServerData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, office_id, name, scope, transport, command, args, url, auth_mode, timeout_sec, enabled, created_at
		 FROM tool_servers
		 WHERE office_id = ? AND enabled = 1 AND (scope = ? OR scope = '')
		 ORDER BY created_at`,
		officeID, scope,
	)
	if err != nil {
		return nil, fmt.Errorf("list tool servers: %w", err)
	}
	defer rows.Close()

	var out []store.ToolServerData
	for rows.Next() {
		var (
			ts       store.ToolServerData
			rawID    string
			argsJSON sql.NullString
		)
		if err := rows.Scan(&rawID, &ts.OfficeID, &ts.Name, &ts.Scope, &ts.Transport,
			&ts.Command, &argsJSON, &ts.URL, &ts.AuthMode, &ts.TimeoutSec, &ts.Enabled, &ts.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tool server: %w", err)
		}
		ts.ID, err = uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parse tool server id: %w", err)
		}
		if argsJSON.String != "" {
			if err := json.Unmarshal([]byte(argsJSON.String), &ts.Args); err != nil {
				return nil, fmt.Errorf("decode tool server args: %w", err)
			}
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// CredentialStore implements store.CredentialStore on sqlite.
type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) GetBatch(ctx context.Context, officeID string, serverIDs []uuid.UUID) (map[uuid.UUID][]byte, error) {
	out := make(map[uuid.UUID][]byte, len(serverIDs))
	if len(serverIDs) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(serverIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(serverIDs)+1)
	args = append(args, officeID)
	for _, id := range serverIDs {
		args = append(args, id.String())
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT server_id, ciphertext FROM tool_server_credentials
		 WHERE office_id = ? AND server_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("batch get credentials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rawID string
			blob  []byte
		)
		if err := rows.Scan(&rawID, &blob); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parse server id: %w", err)
		}
		out[id] = blob
	}
	return out, rows.Err()
}

func (s *CredentialStore) Put(ctx context.Context, officeID string, serverID uuid.UUID, ciphertext []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_server_credentials (office_id, server_id, ciphertext, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (office_id, server_id) DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at`,
		officeID, serverID.String(), ciphertext, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, officeID string, serverID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tool_server_credentials WHERE office_id = ? AND server_id = ?`,
		officeID, serverID.String(),
	)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
