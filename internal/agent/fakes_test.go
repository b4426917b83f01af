package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/mcp"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
)

// fakeConversations implements store.ConversationStore with real
// compare-and-set semantics so claim races behave like the database.
type fakeConversations struct {
	mu          sync.Mutex
	conv        *store.Conversation
	specialists map[string]string // role -> ref

	getErr   error
	claimErr error
	// brokenClaims makes every claim report lost while leaving the slot
	// empty, simulating a backend whose conditional write is not atomic.
	brokenClaims bool
}

func newFakeConversations(conv *store.Conversation) *fakeConversations {
	return &fakeConversations{conv: conv, specialists: make(map[string]string)}
}

func (f *fakeConversations) Create(ctx context.Context, c *store.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	f.conv = c
	return nil
}

func (f *fakeConversations) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.conv == nil || f.conv.ID != id {
		return nil, store.ErrNotFound
	}
	c := *f.conv
	return &c, nil
}

func (f *fakeConversations) AgentRef(ctx context.Context, id uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.conv.AgentRef, nil
}

func (f *fakeConversations) ClaimAgentRef(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.brokenClaims {
		return false, nil
	}
	if f.conv.AgentRef != "" {
		return false, nil
	}
	f.conv.AgentRef = ref
	return true, nil
}

func (f *fakeConversations) SpecialistRef(ctx context.Context, id uuid.UUID, role string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specialists[role], nil
}

func (f *fakeConversations) ClaimSpecialistRef(ctx context.Context, id uuid.UUID, role, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.brokenClaims {
		return false, nil
	}
	if _, ok := f.specialists[role]; ok {
		return false, nil
	}
	f.specialists[role] = ref
	return true, nil
}

// fakeProvider implements providers.Provider with scripted step results.
type fakeProvider struct {
	mu      sync.Mutex
	created atomic.Int32
	deleted []string

	createErr error

	// steps are consumed in order by StreamTurn calls against the main
	// agent. Delegation calls (agent refs prefixed "spec-") consume from
	// researchSteps instead.
	steps         []scriptedStep
	researchSteps []scriptedStep
	streamCalls   atomic.Int32
	researchCalls atomic.Int32
}

type scriptedStep struct {
	deltas []string
	result providers.TurnResult
	err    error
	// block, when non-nil, is closed by the test to release the step.
	block chan struct{}
}

func (p *fakeProvider) Name() string         { return "fake" }
func (p *fakeProvider) DefaultModel() string { return "fake-model" }

func (p *fakeProvider) CreateAgent(ctx context.Context, seed providers.AgentSeed) (string, error) {
	if p.createErr != nil {
		return "", p.createErr
	}
	n := p.created.Add(1)
	if seed.System != "" {
		return fmt.Sprintf("spec-%d", n), nil
	}
	return fmt.Sprintf("agent-%d", n), nil
}

func (p *fakeProvider) DeleteAgent(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, ref)
	return nil
}

func (p *fakeProvider) StreamTurn(ctx context.Context, req providers.TurnRequest, onDelta func(string)) (*providers.TurnResult, error) {
	var step scriptedStep
	p.mu.Lock()
	if len(req.AgentRef) >= 5 && req.AgentRef[:5] == "spec-" {
		p.researchCalls.Add(1)
		if len(p.researchSteps) == 0 {
			p.mu.Unlock()
			return &providers.TurnResult{Content: "findings", StopReason: "end_turn"}, nil
		}
		step, p.researchSteps = p.researchSteps[0], p.researchSteps[1:]
	} else {
		p.streamCalls.Add(1)
		if len(p.steps) == 0 {
			p.mu.Unlock()
			return nil, errors.New("no scripted step left")
		}
		step, p.steps = p.steps[0], p.steps[1:]
	}
	p.mu.Unlock()

	for _, d := range step.deltas {
		if onDelta != nil {
			onDelta(d)
		}
	}
	if step.block != nil {
		select {
		case <-step.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.err != nil {
		return nil, step.err
	}
	r := step.result
	return &r, nil
}

// fakeLoader implements toolLoader with a canned set and a counted cleanup.
type fakeLoader struct {
	set      *tools.Set
	loadErr  error
	cleanups atomic.Int32
}

func (l *fakeLoader) Load(ctx context.Context, officeID, scope string) (*tools.Set, mcp.CleanupFunc, error) {
	if l.loadErr != nil {
		return nil, nil, l.loadErr
	}
	set := l.set
	if set == nil {
		set = tools.NewSet()
	}
	return set, func() { l.cleanups.Add(1) }, nil
}

// fakeMessages records appended messages.
type fakeMessages struct {
	mu        sync.Mutex
	appended  []store.Message
	appendErr error
}

func (m *fakeMessages) Append(ctx context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appended = append(m.appended, *msg)
	return nil
}

func (m *fakeMessages) byRole(role string) []store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Message
	for _, msg := range m.appended {
		if msg.Role == role {
			out = append(out, msg)
		}
	}
	return out
}
