// Package store defines the storage contracts the turn pipeline depends on.
// Concrete backends live in store/pg (managed, Postgres) and store/lite
// (standalone, sqlite).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("store: not found")

// Stores is the top-level container for all storage backends.
type Stores struct {
	Conversations ConversationStore
	Messages      MessageStore
	ToolServers   ToolServerStore
	Credentials   CredentialStore

	closer func() error
}

// SetCloser registers the function that releases the underlying handle.
func (s *Stores) SetCloser(fn func() error) { s.closer = fn }

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Config selects and configures a storage backend.
type Config struct {
	// PostgresDSN comes from env PARLEY_POSTGRES_DSN only (secret, never in
	// config files). Non-empty DSN selects the Postgres backend.
	PostgresDSN string
	// SQLitePath is the standalone database file (default "parley.db").
	SQLitePath string
}

// Conversation is the stored conversation row. The turn pipeline only reads
// it and conditionally updates AgentRef; creation and listing belong to the
// surrounding CRUD layer.
type Conversation struct {
	ID        uuid.UUID
	OfficeID  string
	Scope     string
	AgentRef  string // empty until the first successful claim; never changes after
	Target    string // execution target, single supported value "letta"
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted chat message.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string // "user" or "assistant"
	Content        string
	Model          string
	PromptTokens   int
	ResponseTokens int
	CreatedAt      time.Time
}

// ToolServerData is a tenant-registered MCP tool server.
type ToolServerData struct {
	ID         uuid.UUID
	OfficeID   string
	Name       string
	Scope      string // capability scope tag, matched against the turn's scope
	Transport  string // "stdio", "sse", "streamable-http"
	Command    string // stdio
	Args       []string
	URL        string // sse / streamable-http
	AuthMode   string // "none" or "shared-secret"
	TimeoutSec int
	Enabled    bool
	CreatedAt  time.Time
}

// ConversationStore exposes the conversation reads and the single atomic
// conditional write the agent-resolution protocol is built on.
type ConversationStore interface {
	// Create inserts a new conversation. ID may be pre-set by the caller;
	// a nil ID gets generated.
	Create(ctx context.Context, c *Conversation) error

	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)

	// AgentRef returns the conversation's backing agent reference, or ""
	// when none has been claimed yet.
	AgentRef(ctx context.Context, id uuid.UUID) (string, error)

	// ClaimAgentRef sets the agent reference if and only if it is currently
	// unset, as one indivisible storage operation. Returns true when this
	// call won the claim, false when another writer already holds it.
	ClaimAgentRef(ctx context.Context, id uuid.UUID, ref string) (bool, error)

	// SpecialistRef and ClaimSpecialistRef are the same contract keyed by
	// (conversation, role), backing specialist agent resolution.
	SpecialistRef(ctx context.Context, id uuid.UUID, role string) (string, error)
	ClaimSpecialistRef(ctx context.Context, id uuid.UUID, role, ref string) (bool, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	Append(ctx context.Context, m *Message) error
}

// ToolServerStore lists tenant-registered tool servers.
type ToolServerStore interface {
	// ListForOffice returns the enabled registrations for one office whose
	// scope tag matches the given scope (an empty registration scope matches
	// every turn scope).
	ListForOffice(ctx context.Context, officeID, scope string) ([]ToolServerData, error)
}

// CredentialStore holds vault-encrypted tool-server credentials.
type CredentialStore interface {
	// GetBatch fetches the ciphertext blobs for a set of servers in one
	// query. Servers without a stored credential are simply absent from
	// the result map.
	GetBatch(ctx context.Context, officeID string, serverIDs []uuid.UUID) (map[uuid.UUID][]byte, error)
	Put(ctx context.Context, officeID string, serverID uuid.UUID, ciphertext []byte) error
	Delete(ctx context.Context, officeID string, serverID uuid.UUID) error
}
