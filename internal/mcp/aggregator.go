// Package mcp aggregates tool-provider connections for one turn: the managed
// Arcade gateway plus every tenant-registered MCP server, connected in
// parallel with per-provider failure isolation.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/arcade"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/internal/vault"
)

// Conn is one open tool-provider connection.
type Conn interface {
	// Tools lists the provider's capabilities as turn tools.
	Tools(ctx context.Context) ([]tools.Tool, error)
	// Close releases the connection.
	Close() error
}

// ConnectFunc opens a connection to one registered tool server. credential
// is the decrypted shared secret, or "" for auth mode "none".
type ConnectFunc func(ctx context.Context, srv store.ToolServerData, credential string) (Conn, error)

// Aggregator builds the merged tool set for a turn.
type Aggregator struct {
	servers store.ToolServerStore
	creds   store.CredentialStore
	vault   *vault.Vault
	gateway *arcade.Client // nil when no managed gateway is configured
	connect ConnectFunc
}

// Option configures the Aggregator.
type Option func(*Aggregator)

// WithGateway attaches the managed Arcade gateway.
func WithGateway(c *arcade.Client) Option {
	return func(a *Aggregator) { a.gateway = c }
}

// WithConnectFunc overrides how MCP servers are dialed (tests).
func WithConnectFunc(fn ConnectFunc) Option {
	return func(a *Aggregator) { a.connect = fn }
}

// NewAggregator creates an Aggregator over the given stores and vault.
func NewAggregator(servers store.ToolServerStore, creds store.CredentialStore, v *vault.Vault, opts ...Option) *Aggregator {
	a := &Aggregator{
		servers: servers,
		creds:   creds,
		vault:   v,
		connect: connectServer,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// CleanupFunc closes every connection the load opened. Individual close
// failures are logged and never stop the remaining closes.
type CleanupFunc func()

// Load connects all tool providers for (office, scope) and merges their
// capabilities. A provider that fails to connect or list degrades the turn
// to fewer tools; only storage-level failures (listing registrations,
// batch-fetching credentials) surface as errors.
func (a *Aggregator) Load(ctx context.Context, officeID, scope string) (*tools.Set, CleanupFunc, error) {
	regs, err := a.servers.ListForOffice(ctx, officeID, scope)
	if err != nil {
		return nil, nil, fmt.Errorf("list tool servers: %w", err)
	}

	credentials, err := a.fetchCredentials(ctx, officeID, regs)
	if err != nil {
		return nil, nil, err
	}

	type outcome struct {
		source string
		conn   Conn
		tools  []tools.Tool
		err    error
	}

	// Join-all-tolerant fan-out: every provider gets a slot; a failed slot
	// carries its error instead of aborting the batch.
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []outcome
	)
	spawn := func(source string, dial func() (Conn, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := outcome{source: source}
			conn, err := dial()
			if err != nil {
				o.err = err
			} else {
				o.conn = conn
				o.tools, o.err = conn.Tools(ctx)
				if o.err != nil {
					// Listing failed on an open connection: close it now,
					// it will not be part of the cleanup set.
					if cerr := conn.Close(); cerr != nil {
						slog.Debug("mcp.provider.close_error", "provider", source, "error", cerr)
					}
					o.conn = nil
				}
			}
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		}()
	}

	if a.gateway != nil {
		gw := a.gateway
		spawn("arcade", func() (Conn, error) { return gatewayConn{client: gw}, nil })
	}
	for _, reg := range regs {
		reg := reg
		spawn("mcp:"+reg.Name, func() (Conn, error) {
			return a.connect(ctx, reg, credentials[reg.ID.String()])
		})
	}
	wg.Wait()

	set := tools.NewSet()
	var open []outcome
	for _, o := range outcomes {
		if o.err != nil {
			slog.Warn("mcp.provider.unavailable", "provider", o.source, "error", o.err)
			continue
		}
		for _, t := range o.tools {
			set.Add(t)
		}
		open = append(open, o)
		slog.Info("mcp.provider.loaded", "provider", o.source, "tools", len(o.tools))
	}

	cleanup := func() {
		for _, o := range open {
			if err := o.conn.Close(); err != nil {
				slog.Warn("mcp.provider.close_error", "provider", o.source, "error", err)
			}
		}
	}
	return set, cleanup, nil
}

// fetchCredentials batch-loads and decrypts the shared secrets for every
// registration that declares one. Result is keyed by server ID string; a
// missing or unreadable credential leaves the provider to fail (or connect
// unauthenticated) on its own rather than failing the batch.
func (a *Aggregator) fetchCredentials(ctx context.Context, officeID string, regs []store.ToolServerData) (map[string]string, error) {
	var need []store.ToolServerData
	for _, reg := range regs {
		if reg.AuthMode == "shared-secret" {
			need = append(need, reg)
		}
	}
	out := make(map[string]string, len(need))
	if len(need) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(need))
	for _, reg := range need {
		ids = append(ids, reg.ID)
	}
	blobs, err := a.creds.GetBatch(ctx, officeID, ids)
	if err != nil {
		return nil, fmt.Errorf("batch fetch credentials: %w", err)
	}

	for _, reg := range need {
		blob, ok := blobs[reg.ID]
		if !ok {
			slog.Warn("mcp.credential.missing", "server", reg.Name)
			continue
		}
		plaintext, err := a.vault.Decrypt(officeID, blob)
		if err != nil {
			if errors.Is(err, vault.ErrUnreadable) {
				// Distinct condition: the tenant must re-enter the secret.
				slog.Warn("mcp.credential.unreadable", "server", reg.Name, "action", "re-enter credential")
			} else {
				slog.Warn("mcp.credential.decrypt_failed", "server", reg.Name, "error", err)
			}
			continue
		}
		out[reg.ID.String()] = string(plaintext)
	}
	return out, nil
}

// gatewayConn adapts the Arcade client to the Conn contract. The client is
// a plain HTTP client, so Close is a no-op.
type gatewayConn struct {
	client *arcade.Client
}

func (g gatewayConn) Tools(ctx context.Context) ([]tools.Tool, error) {
	return g.client.Tools(ctx)
}

func (g gatewayConn) Close() error { return nil }
