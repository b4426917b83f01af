package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CredentialStore implements store.CredentialStore on Postgres.
// Blobs are vault-encrypted before they get here; this layer never sees
// plaintext.
type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// GetBatch fetches credentials for all given servers in a single query,
// avoiding one round trip per registration.
func (s *CredentialStore) GetBatch(ctx context.Context, officeID string, serverIDs []uuid.UUID) (map[uuid.UUID][]byte, error) {
	out := make(map[uuid.UUID][]byte, len(serverIDs))
	if len(serverIDs) == 0 {
		return out, nil
	}

	// database/sql has no native uuid-slice binding; pass text and cast.
	ids := make([]string, len(serverIDs))
	for i, id := range serverIDs {
		ids[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT server_id, ciphertext FROM tool_server_credentials
		 WHERE office_id = $1 AND server_id = ANY($2::uuid[])`,
		officeID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("batch get credentials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   uuid.UUID
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out[id] = blob
	}
	return out, rows.Err()
}

func (s *CredentialStore) Put(ctx context.Context, officeID string, serverID uuid.UUID, ciphertext []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_server_credentials (office_id, server_id, ciphertext, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (office_id, server_id) DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = EXCLUDED.updated_at`,
		officeID, serverID, ciphertext, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, officeID string, serverID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tool_server_credentials WHERE office_id = $1 AND server_id = $2`,
		officeID, serverID,
	)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
