package catalog

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/intake/model"
)

// snapshot is an immutable set of templates in catalog order.
type snapshot struct {
	ordered  []model.RequestData
	byID     map[string]int
	checksum string
}

// Registry is a read-optimized, thread-safe template store. Readers never
// block; Replace swaps the whole catalog at once.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry holding the given templates.
func NewRegistry(templates []model.RequestData) *Registry {
	r := &Registry{}
	r.Replace(templates)
	return r
}

// Replace atomically swaps the registry contents. Templates are deep-copied;
// a later duplicate id shadows an earlier one in lookups.
func (r *Registry) Replace(templates []model.RequestData) {
	s := &snapshot{
		ordered: make([]model.RequestData, len(templates)),
		byID:    make(map[string]int, len(templates)),
	}

	ids := make([]string, len(templates))
	for i, t := range templates {
		s.ordered[i] = t.Clone()
		s.byID[t.ID] = i
		ids[i] = t.ID
	}
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(ids, ":"))))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns a deep copy of the template with the given id.
func (r *Registry) Get(id string) (model.RequestData, bool) {
	s := r.current()
	i, ok := s.byID[id]
	if !ok {
		return model.RequestData{}, false
	}
	return s.ordered[i].Clone(), true
}

// All returns deep copies of every template in catalog order.
func (r *Registry) All() []model.RequestData {
	s := r.current()
	out := make([]model.RequestData, len(s.ordered))
	for i, t := range s.ordered {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of templates.
func (r *Registry) Len() int {
	return len(r.current().ordered)
}

// Loaded reports whether the registry holds at least one template.
func (r *Registry) Loaded() bool {
	return r.Len() > 0
}

// Checksum identifies the current template set.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

// Find returns the template with the given id from an ordered list, as
// received from the backend.
func Find(templates []model.RequestData, id string) (model.RequestData, bool) {
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return model.RequestData{}, false
}
