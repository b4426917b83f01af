package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/store"
)

// ErrInconsistentClaim means a lost claim was followed by an empty re-read.
// The storage layer promised an atomic set-if-null; if the loser cannot see
// the winner's value the promise is broken and nothing above can be trusted.
var ErrInconsistentClaim = errors.New("agent: lost claim but no winning reference found; conditional write is not atomic")

// claimSlot is the pluggable get/claim contract the resolution protocol runs
// against. Conversation agent refs and (conversation, role) specialist refs
// are the two instantiations.
type claimSlot interface {
	// Get returns the currently stored reference, or "" when unclaimed.
	Get(ctx context.Context) (string, error)
	// Claim stores ref iff the slot is empty, atomically. True means this
	// caller won.
	Claim(ctx context.Context, ref string) (bool, error)
	// Describe names the slot for logs.
	Describe() string
}

// Resolver maps conversations to remote agent references, creating agents
// on first use. Safe under concurrent callers on any number of processes:
// the only coordination primitive is the store's conditional write.
type Resolver struct {
	conversations store.ConversationStore
	provider      providers.Provider
	scheduler     bus.Scheduler
}

func NewResolver(conversations store.ConversationStore, provider providers.Provider, scheduler bus.Scheduler) *Resolver {
	return &Resolver{
		conversations: conversations,
		provider:      provider,
		scheduler:     scheduler,
	}
}

// Resolve returns the conversation's backing agent reference, creating and
// claiming one if absent.
func (r *Resolver) Resolve(ctx context.Context, conv *store.Conversation) (string, error) {
	seed := providers.AgentSeed{
		Name: fmt.Sprintf("conv-%s", conv.ID),
	}
	return r.resolve(ctx, conversationSlot{store: r.conversations, id: conv.ID}, seed)
}

// ResolveSpecialist returns the conversation's specialist agent for a role
// (e.g. "research"), with the same single-writer semantics keyed by
// (conversation, role).
func (r *Resolver) ResolveSpecialist(ctx context.Context, conv *store.Conversation, role, system string) (string, error) {
	seed := providers.AgentSeed{
		Name:   fmt.Sprintf("conv-%s-%s", conv.ID, role),
		System: system,
	}
	return r.resolve(ctx, specialistSlot{store: r.conversations, id: conv.ID, role: role}, seed)
}

// resolve is the generic claim routine.
//
// Fast path: an existing reference comes back without any write. Otherwise a
// fresh remote agent is created and raced into the slot; losers delete their
// orphan in the background and adopt the winner's reference.
func (r *Resolver) resolve(ctx context.Context, slot claimSlot, seed providers.AgentSeed) (string, error) {
	ref, err := slot.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", slot.Describe(), err)
	}
	if ref != "" {
		return ref, nil
	}

	created, err := r.provider.CreateAgent(ctx, seed)
	if err != nil {
		return "", fmt.Errorf("create agent for %s: %w", slot.Describe(), err)
	}

	won, err := slot.Claim(ctx, created)
	if err != nil {
		// The claim's outcome is unknown; deleting the agent here could
		// orphan the conversation, so leave it and surface the error.
		return "", fmt.Errorf("claim %s: %w", slot.Describe(), err)
	}
	if won {
		slog.Info("agent.resolved", "slot", slot.Describe(), "ref", created, "path", "claimed")
		return created, nil
	}

	// Another caller won first. Delete our orphan off the request path and
	// adopt the winner's reference.
	r.deleteOrphan(slot.Describe(), created)

	winner, err := slot.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("re-read %s after lost claim: %w", slot.Describe(), err)
	}
	if winner == "" {
		return "", fmt.Errorf("%s: %w", slot.Describe(), ErrInconsistentClaim)
	}
	slog.Info("agent.resolved", "slot", slot.Describe(), "ref", winner, "path", "adopted")
	return winner, nil
}

// deleteOrphan schedules best-effort deletion of an agent created by a lost
// claim. Failures are logged, never propagated: a leaked remote agent is
// waste, not corruption.
func (r *Resolver) deleteOrphan(slot, ref string) {
	r.scheduler.Schedule(func(ctx context.Context) {
		if err := r.provider.DeleteAgent(ctx, ref); err != nil {
			slog.Warn("agent.orphan_delete_failed", "slot", slot, "ref", ref, "error", err)
			return
		}
		slog.Debug("agent.orphan_deleted", "slot", slot, "ref", ref)
	})
}

type conversationSlot struct {
	store store.ConversationStore
	id    uuid.UUID
}

func (s conversationSlot) Get(ctx context.Context) (string, error) {
	return s.store.AgentRef(ctx, s.id)
}

func (s conversationSlot) Claim(ctx context.Context, ref string) (bool, error) {
	return s.store.ClaimAgentRef(ctx, s.id, ref)
}

func (s conversationSlot) Describe() string {
	return "conversation " + s.id.String()
}

type specialistSlot struct {
	store store.ConversationStore
	id    uuid.UUID
	role  string
}

func (s specialistSlot) Get(ctx context.Context) (string, error) {
	return s.store.SpecialistRef(ctx, s.id, s.role)
}

func (s specialistSlot) Claim(ctx context.Context, ref string) (bool, error) {
	return s.store.ClaimSpecialistRef(ctx, s.id, s.role, ref)
}

func (s specialistSlot) Describe() string {
	return "conversation " + s.id.String() + " role " + s.role
}
