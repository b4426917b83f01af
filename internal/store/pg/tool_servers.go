package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/internal/store"
)

// ToolServerStore implements store.ToolServerStore on Postgres.
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
		 WHERE office_id = $1 AND enabled = true AND (scope = $2 OR scope = '')
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
			argsJSON []byte
		)
		if err := rows.Scan(&ts.ID, &ts.OfficeID, &ts.Name, &ts.Scope, &ts.Transport,
			&ts.Command, &argsJSON, &ts.URL, &ts.AuthMode, &ts.TimeoutSec, &ts.Enabled, &ts.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tool server: %w", err)
		}
		if len(argsJSON) > 0 {
			if err := json.Unmarshal(argsJSON, &ts.Args); err != nil {
				return nil, fmt.Errorf("decode tool server args: %w", err)
			}
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
