package mcp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/internal/vault"
)

type fakeServerStore struct {
	servers []store.ToolServerData
	err     error
}

func (f *fakeServerStore) ListForOffice(ctx context.Context, officeID, scope string) ([]store.ToolServerData, error) {
	return f.servers, f.err
}

type fakeCredStore struct {
	blobs   map[uuid.UUID][]byte
	queries atomic.Int32
}

func (f *fakeCredStore) GetBatch(ctx context.Context, officeID string, serverIDs []uuid.UUID) (map[uuid.UUID][]byte, error) {
	f.queries.Add(1)
	out := make(map[uuid.UUID][]byte)
	for _, id := range serverIDs {
		if blob, ok := f.blobs[id]; ok {
			out[id] = blob
		}
	}
	return out, nil
}

func (f *fakeCredStore) Put(ctx context.Context, officeID string, serverID uuid.UUID, ciphertext []byte) error {
	return nil
}

func (f *fakeCredStore) Delete(ctx context.Context, officeID string, serverID uuid.UUID) error {
	return nil
}

type fakeConn struct {
	tools    []tools.Tool
	closed   atomic.Bool
	closeErr error
}

func (f *fakeConn) Tools(ctx context.Context) ([]tools.Tool, error) { return f.tools, nil }
func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return f.closeErr
}

func serverReg(name string) store.ToolServerData {
	return store.ToolServerData{
		ID:        uuid.Must(uuid.NewV7()),
		OfficeID:  "office-1",
		Name:      name,
		Transport: "sse",
		URL:       "http://" + name + ".test",
		AuthMode:  "none",
		Enabled:   true,
	}
}

func simpleTool(name, source string) tools.Tool {
	return tools.Tool{
		Name:   name,
		Source: source,
		Execute: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			return tools.NewResult("ok"), nil
		},
	}
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New([]byte("test-master"))
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return v
}

func TestLoad_OneProviderFailsOthersSurvive(t *testing.T) {
	regs := []store.ToolServerData{serverReg("alpha"), serverReg("beta"), serverReg("gamma")}
	conns := map[string]*fakeConn{
		"alpha": {tools: []tools.Tool{simpleTool("alpha_search", "mcp:alpha")}},
		"gamma": {tools: []tools.Tool{simpleTool("gamma_fetch", "mcp:gamma")}},
	}

	connect := func(ctx context.Context, srv store.ToolServerData, credential string) (Conn, error) {
		if srv.Name == "beta" {
			return nil, errors.New("connection refused")
		}
		return conns[srv.Name], nil
	}

	agg := NewAggregator(&fakeServerStore{servers: regs}, &fakeCredStore{}, testVault(t),
		WithConnectFunc(connect))

	set, cleanup, err := agg.Load(context.Background(), "office-1", "chat")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.Len() != 2 {
		t.Errorf("merged set has %d tools, want 2 (names: %v)", set.Len(), set.Names())
	}
	if _, ok := set.Get("alpha_search"); !ok {
		t.Error("alpha_search missing from merged set")
	}
	if _, ok := set.Get("gamma_fetch"); !ok {
		t.Error("gamma_fetch missing from merged set")
	}

	cleanup()
	if !conns["alpha"].closed.Load() || !conns["gamma"].closed.Load() {
		t.Error("cleanup should close both surviving connections")
	}
}

func TestCleanup_CloseFailureNamesProvider(t *testing.T) {
	reg := serverReg("alpha")
	conn := &fakeConn{
		tools:    []tools.Tool{simpleTool("alpha_search", "mcp:alpha")},
		closeErr: errors.New("connection already gone"),
	}
	connect := func(ctx context.Context, srv store.ToolServerData, credential string) (Conn, error) {
		return conn, nil
	}
	agg := NewAggregator(&fakeServerStore{servers: []store.ToolServerData{reg}},
		&fakeCredStore{}, testVault(t), WithConnectFunc(connect))

	_, cleanup, err := agg.Load(context.Background(), "office-1", "chat")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	defer slog.SetDefault(prev)

	cleanup()
	if !conn.closed.Load() {
		t.Fatal("cleanup never closed the connection")
	}
	// The warning names the provider, not a slice index.
	if !strings.Contains(logs.String(), "provider=mcp:alpha") {
		t.Errorf("close warning does not name the provider: %s", logs.String())
	}
}

func TestLoad_CredentialsFetchedInOneBatch(t *testing.T) {
	v := testVault(t)

	regA := serverReg("a")
	regA.AuthMode = "shared-secret"
	regB := serverReg("b")
	regB.AuthMode = "shared-secret"

	blobA, _ := v.Encrypt("office-1", []byte("secret-a"))
	blobB, _ := v.Encrypt("office-1", []byte("secret-b"))
	creds := &fakeCredStore{blobs: map[uuid.UUID][]byte{regA.ID: blobA, regB.ID: blobB}}

	var (
		mu       sync.Mutex
		gotCreds []string
	)
	connect := func(ctx context.Context, srv store.ToolServerData, credential string) (Conn, error) {
		mu.Lock()
		gotCreds = append(gotCreds, credential)
		mu.Unlock()
		return &fakeConn{}, nil
	}

	agg := NewAggregator(&fakeServerStore{servers: []store.ToolServerData{regA, regB}}, creds, v,
		WithConnectFunc(connect))

	if _, _, err := agg.Load(context.Background(), "office-1", ""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n := creds.queries.Load(); n != 1 {
		t.Errorf("credential store queried %d times, want 1 batch query", n)
	}
	want := map[string]bool{"secret-a": true, "secret-b": true}
	for _, c := range gotCreds {
		if !want[c] {
			t.Errorf("unexpected credential %q", c)
		}
	}
}

func TestLoad_UnreadableCredentialDegrades(t *testing.T) {
	v := testVault(t)

	reg := serverReg("locked")
	reg.AuthMode = "shared-secret"
	creds := &fakeCredStore{blobs: map[uuid.UUID][]byte{reg.ID: []byte("not-a-valid-blob")}}

	connect := func(ctx context.Context, srv store.ToolServerData, credential string) (Conn, error) {
		if credential == "" {
			return nil, errors.New("unauthenticated")
		}
		return &fakeConn{}, nil
	}

	agg := NewAggregator(&fakeServerStore{servers: []store.ToolServerData{reg}}, creds, v,
		WithConnectFunc(connect))

	set, cleanup, err := agg.Load(context.Background(), "office-1", "")
	if err != nil {
		t.Fatalf("unreadable credential must degrade, not fail the load: %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("expected empty set, got %v", set.Names())
	}
	cleanup()
}
