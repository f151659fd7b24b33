package refdata

import (
	"strings"
	"sync"

	"fundrecon/internal/types"
)

type policyKind int

const (
	policyEmpty policyKind = iota
	policyIdentity
	policySynthesize
)

// Policy decides what Resolve returns when a map has no entry for a key.
type Policy struct {
	kind   policyKind
	format string
}

// Identity returns the key unchanged. Used for portfolio display names.
func Identity() Policy { return Policy{kind: policyIdentity} }

// Synthesize builds a placeholder from format. "{key}" and "%s" are replaced
// with the key, e.g. Synthesize("TM-{key}-CLR").
func Synthesize(format string) Policy { return Policy{kind: policySynthesize, format: format} }

func Empty() Policy { return Policy{kind: policyEmpty} }

// Apply returns what the policy substitutes for an unmapped key.
func (p Policy) Apply(key string) string {
	switch p.kind {
	case policyIdentity:
		return key
	case policySynthesize:
		out := strings.ReplaceAll(p.format, "{key}", key)
		return strings.ReplaceAll(out, "%s", key)
	default:
		return ""
	}
}

func (p Policy) String() string {
	switch p.kind {
	case policyIdentity:
		return "identity"
	case policySynthesize:
		return "synthesize(" + p.format + ")"
	default:
		return "empty"
	}
}

// Resolver answers lookups against a Store and counts misses per map.
// It never mutates the store.
type Resolver struct {
	store   *Store
	mu      sync.Mutex
	misses  map[string]int
	summary *types.RunSummary
	parent  *Resolver
}

func NewResolver(store *Store) *Resolver {
	if store == nil {
		store = NewStore()
	}
	return &Resolver{store: store, misses: map[string]int{}}
}

func (r *Resolver) Store() *Store { return r.store }

// Scoped returns a resolver over the same store that also records its misses
// in s. Misses still reach r's own counters.
func (r *Resolver) Scoped(s *types.RunSummary) *Resolver {
	return &Resolver{store: r.store, misses: map[string]int{}, summary: s, parent: r}
}

// Lookup compares keys as trimmed strings and reports whether a mapping exists.
func (r *Resolver) Lookup(mapName, key string) (string, bool) {
	m, ok := r.store.Map(mapName)
	if !ok {
		return "", false
	}
	v, ok := m[strings.TrimSpace(key)]
	return v, ok
}

// Resolve returns the mapped value or the policy fallback. A miss is counted,
// never raised.
func (r *Resolver) Resolve(mapName, key string, policy Policy) string {
	key = strings.TrimSpace(key)
	if v, ok := r.Lookup(mapName, key); ok {
		return v
	}
	r.miss(mapName)
	return policy.Apply(key)
}

// Reverse finds the single key mapped to value. Two keys sharing a value is
// an ambiguous fund-name mapping and counts as a miss.
func (r *Resolver) Reverse(mapName, value string) (string, bool) {
	m, ok := r.store.Map(mapName)
	if !ok {
		r.miss(mapName)
		return "", false
	}
	value = strings.TrimSpace(value)
	var found string
	n := 0
	for k, v := range m {
		if strings.TrimSpace(v) == value {
			found = k
			n++
		}
	}
	if n != 1 {
		r.miss(mapName)
		return "", false
	}
	return found, true
}

func (r *Resolver) miss(mapName string) {
	r.mu.Lock()
	r.misses[mapName]++
	if r.summary != nil {
		r.summary.Miss(mapName)
	}
	r.mu.Unlock()
	if r.parent != nil {
		r.parent.miss(mapName)
	}
}

// Misses returns a copy of the miss counters.
func (r *Resolver) Misses() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.misses))
	for k, v := range r.misses {
		out[k] = v
	}
	return out
}
