package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/tools"
)

// ResearchToolName is the built-in delegation tool's name. External
// providers registering a tool under this name never override it.
const ResearchToolName = "research"

const researchSystem = "You are a research specialist. Answer the delegated " +
	"question thoroughly and concisely, citing sources where you can. Return " +
	"only the findings, no preamble."

// researchTool builds the per-turn research delegation tool. The model may
// invoke it several times in one turn, including concurrently within a
// single reasoning step; the call counter bounds it exactly either way.
func (o *Orchestrator) researchTool(tc *turnContext) tools.Tool {
	return tools.Tool{
		Name:        ResearchToolName,
		Description: "Delegate a focused research question to a specialist agent and return its findings.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The research question to investigate.",
				},
			},
			"required": []string{"query"},
		},
		Source:  "builtin",
		Builtin: true,
		Execute: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			return o.runResearch(ctx, tc, args)
		},
	}
}

func (o *Orchestrator) runResearch(ctx context.Context, tc *turnContext, args map[string]any) (*tools.Result, error) {
	// The bound check happens synchronously, before any network round
	// trip, so a burst of concurrent delegations in one reasoning step
	// still yields exactly MaxResearchCalls successes.
	n := tc.researchCalls.Add(1)
	if n > o.cfg.MaxResearchCalls {
		slog.Warn("turn.research.bound_reached",
			"conversation", tc.conv.ID,
			"call", n,
			"limit", o.cfg.MaxResearchCalls,
		)
		return tools.ErrorResult(fmt.Sprintf(
			"research limit reached (%d per turn); answer with what you already have",
			o.cfg.MaxResearchCalls)), nil
	}

	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return tools.ErrorResult("research requires a non-empty \"query\""), nil
	}

	ref, err := o.specialistRef(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("resolve research specialist: %w", err)
	}

	step, err := o.provider.StreamTurn(ctx, providers.TurnRequest{
		AgentRef: ref,
		Messages: []providers.Message{{Role: "user", Content: query}},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("research delegation: %w", err)
	}
	tc.addUsage(step.Usage)

	slog.Info("turn.research.completed",
		"conversation", tc.conv.ID,
		"call", n,
		"bytes", len(step.Content),
	)
	if step.Content == "" {
		return tools.ErrorResult("research specialist returned no findings"), nil
	}
	return tools.NewResult(step.Content), nil
}

// specialistRef returns the turn's cached research agent reference,
// resolving it through the claim protocol on first use. The mutex holds
// through resolution so concurrent first calls in one turn create at most
// one resolution attempt.
func (o *Orchestrator) specialistRef(ctx context.Context, tc *turnContext) (string, error) {
	tc.specialistMu.Lock()
	defer tc.specialistMu.Unlock()
	if tc.specialistRef != "" {
		return tc.specialistRef, nil
	}
	ref, err := o.resolver.ResolveSpecialist(ctx, tc.conv, "research", researchSystem)
	if err != nil {
		return "", err
	}
	tc.specialistRef = ref
	return ref, nil
}
