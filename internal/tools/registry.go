// Package tools implements the Tool Registry (C3): the process-wide
// catalog of tools, their risk levels and categories, session-scoped
// filtering, and the approval-evaluation order that ties the registry to
// the Command Analyzer and the Permission Policies. Grounded on
// internal/tools/policy/resolver.go's deny-first/allow-second Decide()
// structure, generalized with the risk ceiling and category-set
// precedence tiers that resolver lacked.
package tools

import (
	"fmt"
	"sync"

	"github.com/goatbytes/consoul/internal/models"
)

// Registry holds the tool catalog. It is process-wide and read-mostly;
// writes (Register/Deregister) take the write lock.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]models.Tool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]models.Tool)}
}

// Register adds or replaces a catalog entry. Names are unique per registry.
func (r *Registry) Register(t models.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Deregister removes a catalog entry.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the catalog entry for name.
func (r *Registry) Get(name string) (models.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every enabled catalog entry.
func (r *Registry) All() []models.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// FilterAllowed returns the subset of the catalog that filter permits,
// applying the full precedence chain of Decide.
func (r *Registry) FilterAllowed(filter models.ToolFilter) []models.Tool {
	var out []models.Tool
	for _, t := range r.All() {
		if Decide(filter, t).Allowed {
			out = append(out, t)
		}
	}
	return out
}

// Decision explains an allow/deny outcome.
type Decision struct {
	Allowed bool
	Reason  string
}

// Decide evaluates filter against a catalog entry using the mandatory
// precedence order: deny beats everything; allow (if non-empty) is a
// whitelist; then the risk ceiling; then the category set. An overlap
// between allow and deny for the same tool logs a warning upstream (the
// caller is expected to do so) and deny always wins here.
func Decide(filter models.ToolFilter, t models.Tool) Decision {
	if !t.Enabled {
		return Decision{Allowed: false, Reason: "tool disabled"}
	}
	if t.RiskLevel == models.RiskBlocked {
		return Decision{Allowed: false, Reason: "tool is BLOCKED"}
	}

	for _, d := range filter.Deny {
		if d == t.Name {
			return Decision{Allowed: false, Reason: fmt.Sprintf("denied by rule: %s", d)}
		}
	}

	if len(filter.Allow) > 0 {
		allowed := false
		for _, a := range filter.Allow {
			if a == t.Name {
				allowed = true
				break
			}
		}
		if !allowed {
			return Decision{Allowed: false, Reason: "not present in allow list"}
		}
	}

	if filter.RiskLevelMax != 0 && t.RiskLevel > filter.RiskLevelMax {
		return Decision{Allowed: false, Reason: fmt.Sprintf("risk level %s exceeds ceiling %s", t.RiskLevel, filter.RiskLevelMax)}
	}

	if len(filter.Categories) > 0 {
		matched := false
		for _, want := range filter.Categories {
			for _, have := range t.Categories {
				if want == have {
					matched = true
					break
				}
			}
		}
		if !matched {
			return Decision{Allowed: false, Reason: "no matching category"}
		}
	}

	return Decision{Allowed: true, Reason: "allowed"}
}
