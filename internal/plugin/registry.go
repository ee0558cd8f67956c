package plugin

import (
	"context"
	"fmt"
	"sort"
)

// Generic is the fallback strategy: no identification, no details, no default name.
type Generic struct{}

func (Generic) Kind() string { return "" }

func (Generic) Details(context.Context, Attributes) (map[string]string, error) {
	return map[string]string{}, nil
}

// IsFallback reports whether s is the registry's fallback strategy.
func IsFallback(s Strategy) bool {
	return s == nil || s.Kind() == ""
}

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	byTag    map[string]Strategy
	fallback Strategy
}

func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{
		byTag:    make(map[string]Strategy, len(strategies)),
		fallback: Generic{},
	}
	for _, s := range strategies {
		if s == nil {
			continue
		}
		tag := NormalizeTag(s.Kind())
		if tag == "" {
			return nil, fmt.Errorf("plugin: strategy %T has an empty kind", s)
		}
		if tag != s.Kind() {
			return nil, fmt.Errorf("plugin: kind %q is not normalized", s.Kind())
		}
		if _, dup := r.byTag[tag]; dup {
			return nil, fmt.Errorf("plugin: duplicate kind %q", tag)
		}
		r.byTag[tag] = s
	}
	return r, nil
}

// Lookup returns the strategy registered for tag. Empty or unknown tags return the fallback
// with ok=false; lookup never fails.
func (r *Registry) Lookup(tag string) (Strategy, bool) {
	if r == nil {
		return Generic{}, false
	}
	if s, ok := r.byTag[NormalizeTag(tag)]; ok {
		return s, true
	}
	return r.fallback, false
}

func (r *Registry) Kinds() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byTag))
	for k := range r.byTag {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
