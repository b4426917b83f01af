package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/store"
)

type stubConversations struct {
	conv      *store.Conversation
	created   []*store.Conversation
	createErr error
}

func (s *stubConversations) Create(ctx context.Context, c *store.Conversation) error {
	if s.createErr != nil {
		return s.createErr
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.Must(uuid.NewV7())
	}
	s.created = append(s.created, c)
	return nil
}

func (s *stubConversations) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	if s.conv != nil && s.conv.ID == id {
		return s.conv, nil
	}
	return nil, store.ErrNotFound
}

func (s *stubConversations) AgentRef(ctx context.Context, id uuid.UUID) (string, error) {
	return "", store.ErrNotFound
}

func (s *stubConversations) ClaimAgentRef(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	return false, store.ErrNotFound
}

func (s *stubConversations) SpecialistRef(ctx context.Context, id uuid.UUID, role string) (string, error) {
	return "", store.ErrNotFound
}

func (s *stubConversations) ClaimSpecialistRef(ctx context.Context, id uuid.UUID, role, ref string) (bool, error) {
	return false, store.ErrNotFound
}

func newTestServer(convs store.ConversationStore) *Server {
	cfg := config.Default()
	cfg.Gateway.RateLimitRPM = 0 // no limiting in tests
	return NewServer(cfg, nil, convs)
}

func TestCreateConversation(t *testing.T) {
	convs := &stubConversations{}
	srv := newTestServer(convs)

	body := strings.NewReader(`{"scope": "support"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/offices/acme/conversations", body)
	rec := httptest.NewRecorder()
	srv.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(convs.created) != 1 {
		t.Fatalf("created %d conversations", len(convs.created))
	}
	c := convs.created[0]
	if c.OfficeID != "acme" || c.Scope != "support" {
		t.Errorf("conversation = %+v", c)
	}

	var resp struct {
		ID     string `json:"id"`
		Office string `json:"office"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" || resp.Office != "acme" {
		t.Errorf("response = %+v", resp)
	}
}

func TestCreateConversation_StoreFailure(t *testing.T) {
	convs := &stubConversations{createErr: errors.New("db down")}
	srv := newTestServer(convs)

	req := httptest.NewRequest(http.MethodPost, "/v1/offices/acme/conversations", nil)
	rec := httptest.NewRecorder()
	srv.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	// The client never sees the store error text.
	if strings.Contains(rec.Body.String(), "db down") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

func TestTurn_InvalidConversationID(t *testing.T) {
	srv := newTestServer(&stubConversations{})

	req := httptest.NewRequest(http.MethodPost,
		"/v1/offices/acme/conversations/not-a-uuid/turns",
		strings.NewReader(`{"content": "hi"}`))
	rec := httptest.NewRecorder()
	srv.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTurn_WrongOfficeIsNotFound(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	srv := newTestServer(&stubConversations{
		conv: &store.Conversation{ID: id, OfficeID: "acme"},
	})

	url := fmt.Sprintf("/v1/offices/rivals/conversations/%s/turns", id)
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(`{"content": "hi"}`))
	rec := httptest.NewRecorder()
	srv.BuildMux().ServeHTTP(rec, req)

	// Another office's conversation is indistinguishable from a missing one.
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTurn_UnknownConversationIsNotFound(t *testing.T) {
	srv := newTestServer(&stubConversations{})

	url := fmt.Sprintf("/v1/offices/acme/conversations/%s/turns", uuid.Must(uuid.NewV7()))
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(`{"content": "hi"}`))
	rec := httptest.NewRecorder()
	srv.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTurn_RateLimited(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.RateLimitRPM = 1
	srv := NewServer(cfg, nil, &stubConversations{})
	mux := srv.BuildMux()

	// An unknown conversation keeps every request on the validation path;
	// allowed ones answer 404, limited ones 429.
	url := fmt.Sprintf("/v1/offices/acme/conversations/%s/turns", uuid.Must(uuid.NewV7()))
	limited := false
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(`{}`))
		req.RemoteAddr = "10.0.0.1:4242"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("burst of 10 turns was never rate limited")
	}
}

func TestWriteSSE(t *testing.T) {
	rec := httptest.NewRecorder()
	writeSSE(rec, "delta", map[string]string{"text": "hi"})

	want := "event: delta\ndata: {\"text\":\"hi\"}\n\n"
	if rec.Body.String() != want {
		t.Errorf("frame = %q, want %q", rec.Body.String(), want)
	}
}

func TestPublicError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"empty turn passes through", agent.ErrEmptyTurn, agent.ErrEmptyTurn.Error()},
		{"wrapped not found passes through", fmt.Errorf("load: %w", store.ErrNotFound), "load: " + store.ErrNotFound.Error()},
		{"internal error is generic", errors.New("pq: connection refused"), "turn failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := publicError(tt.err); got != tt.want {
				t.Errorf("publicError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	if got := clientKey(req); got != "192.0.2.7" {
		t.Errorf("clientKey = %q", got)
	}
}
