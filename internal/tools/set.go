package tools

import (
	"log/slog"
	"sort"

	"github.com/parleyhq/parley/internal/providers"
)

// Set is the merged tool namespace for one turn. It is built once at turn
// start and owned exclusively by that turn, so no locking.
type Set struct {
	byName map[string]Tool
}

// NewSet creates an empty tool set.
func NewSet() *Set {
	return &Set{byName: make(map[string]Tool)}
}

// Add merges a tool into the set under the collision policy: a built-in name
// is never overridden by an external provider (warn and keep the built-in);
// otherwise later additions win.
func (s *Set) Add(t Tool) {
	if existing, ok := s.byName[t.Name]; ok {
		if existing.Builtin && !t.Builtin {
			slog.Warn("tools.collision.builtin_kept",
				"tool", t.Name,
				"source", t.Source,
			)
			return
		}
		slog.Debug("tools.collision.overridden",
			"tool", t.Name,
			"old_source", existing.Source,
			"new_source", t.Source,
		)
	}
	s.byName[t.Name] = t
}

// Get returns a tool by name.
func (s *Set) Get(name string) (Tool, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Len returns the number of tools in the set.
func (s *Set) Len() int { return len(s.byName) }

// Names returns all tool names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the model-facing schemas, sorted by name for a stable
// prompt.
func (s *Set) Definitions() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(s.byName))
	for _, name := range s.Names() {
		defs = append(defs, s.byName[name].Definition())
	}
	return defs
}
