package rules

import (
	"fmt"
	"sync"
)

// Registry maps entity types to their rule sets. Registration happens during
// wiring; lookups are read-only afterwards, but the registry is safe for
// concurrent use either way.
type Registry struct {
	mu   sync.RWMutex
	sets map[string]RuleSet
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[string]RuleSet)}
}

// Register adds or replaces the rule set for its entity type.
func (r *Registry) Register(set RuleSet) error {
	if set.EntityType == "" {
		return fmt.Errorf("rule set has no entity type")
	}
	for _, rule := range set.Fields {
		if rule.Name == "" {
			return fmt.Errorf("rule set %s has a field rule without a name", set.EntityType)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[set.EntityType] = set
	return nil
}

// Get returns the rule set for an entity type.
func (r *Registry) Get(entityType string) (RuleSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sets[entityType]
	return set, ok
}

// EntityTypes lists the registered entity types.
func (r *Registry) EntityTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.sets))
	for entityType := range r.sets {
		types = append(types, entityType)
	}
	return types
}
