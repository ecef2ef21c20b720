// Package backend is an in-memory implementation of the intake REST
// contract. It serves request templates, persisted requests, field-level
// answer updates, and submissions, and can inject latency and failures into
// answer updates.
package backend

import (
	_ "embed"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/intake/internal/catalog"
	"github.com/pitabwire/intake/model"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the initial content of a repository.
type Seed struct {
	Templates []model.RequestData
	Requests  []model.RequestRecord
	Checksum  string
}

type seedRequests struct {
	Requests []model.RequestRecord `yaml:"requests"`
}

// DefaultSeed returns the built-in seed: the software and hardware request
// templates and two persisted requests.
func DefaultSeed() (Seed, error) {
	return ParseSeed(defaultSeed)
}

// LoadSeed reads a seed file. An empty path returns the built-in seed.
func LoadSeed(path string) (Seed, error) {
	if path == "" {
		return DefaultSeed()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("backend: reading seed %s: %w", path, err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return Seed{}, fmt.Errorf("backend: seed %s: %w", path, err)
	}
	return seed, nil
}

// ParseSeed decodes and validates a seed document. Templates go through the
// catalog loader and validator; requests are read from the "requests" key.
func ParseSeed(data []byte) (Seed, error) {
	doc, err := catalog.NewLoader().LoadData(data)
	if err != nil {
		return Seed{}, err
	}
	if errs := catalog.Validate(doc.Templates); len(errs) > 0 {
		return Seed{}, catalog.JoinErrors(errs)
	}

	var reqs seedRequests
	if err := yaml.Unmarshal(data, &reqs); err != nil {
		return Seed{}, fmt.Errorf("backend: decoding requests: %w", err)
	}

	return Seed{
		Templates: doc.Templates,
		Requests:  reqs.Requests,
		Checksum:  doc.Checksum,
	}, nil
}

// WithTemplateDirs returns a copy of s whose templates are read from the
// YAML and JSON files under dirs, in walk order. The requests are kept. No
// dirs leaves s unchanged.
func (s Seed) WithTemplateDirs(dirs []string) (Seed, error) {
	if len(dirs) == 0 {
		return s, nil
	}
	docs, err := catalog.NewLoader().LoadAll(dirs)
	if err != nil {
		return Seed{}, fmt.Errorf("backend: %w", err)
	}
	templates := catalog.Templates(docs)
	if errs := catalog.Validate(templates); len(errs) > 0 {
		return Seed{}, catalog.JoinErrors(errs)
	}

	sums := make([]string, len(docs))
	for i, d := range docs {
		sums[i] = d.Checksum
	}
	s.Templates = templates
	s.Checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(sums, ","))))
	return s, nil
}
