package catalog

import (
	"sort"

	"github.com/pitabwire/intake/internal/config"
)

// Policy maps a request category chosen by the user to a template id.
// Categories without an entry resolve to the fallback id, if one is set.
type Policy struct {
	categories map[string]string
	fallback   string
}

// NewPolicy creates a policy from a category table and a fallback id.
func NewPolicy(categories map[string]string, fallback string) Policy {
	p := Policy{categories: make(map[string]string, len(categories)), fallback: fallback}
	for k, v := range categories {
		p.categories[k] = v
	}
	return p
}

// DefaultPolicy maps software and hardware to their templates. Any other
// category is unavailable.
func DefaultPolicy() Policy {
	return NewPolicy(map[string]string{
		"software": "software-request",
		"hardware": "hardware-request",
	}, "")
}

// PolicyFromConfig builds the policy configured under catalog.
func PolicyFromConfig(cfg config.CatalogConfig) Policy {
	return NewPolicy(cfg.Categories, cfg.Fallback)
}

// SchemaID resolves a category. It reports false only when the category has
// no entry and no fallback is configured.
func (p Policy) SchemaID(category string) (string, bool) {
	if id, ok := p.categories[category]; ok {
		return id, true
	}
	if p.fallback != "" {
		return p.fallback, true
	}
	return "", false
}

// Categories returns the configured category names, sorted.
func (p Policy) Categories() []string {
	out := make([]string, 0, len(p.categories))
	for k := range p.categories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
