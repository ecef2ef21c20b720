// Package catalog loads request templates, validates them, keeps them in a
// lock-free registry, and maps request categories to template ids.
package catalog

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/intake/model"
)

// Document is a parsed template source.
type Document struct {
	Templates  []model.RequestData
	Checksum   string
	SourceFile string
}

// templateFile is the mapping form of a template source. Other top-level
// keys are ignored so the same file can carry backend seed data.
type templateFile struct {
	Templates []model.RequestData `yaml:"templates"`
}

// Decode parses templates from YAML or JSON. The document is either a
// sequence of templates or a mapping with a "templates" key. Section and
// field order is preserved.
func Decode(data []byte) ([]model.RequestData, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("catalog: parsing templates: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		var templates []model.RequestData
		if err := node.Decode(&templates); err != nil {
			return nil, fmt.Errorf("catalog: decoding templates: %w", err)
		}
		return templates, nil
	case yaml.MappingNode:
		var file templateFile
		if err := node.Decode(&file); err != nil {
			return nil, fmt.Errorf("catalog: decoding templates: %w", err)
		}
		return file.Templates, nil
	default:
		return nil, fmt.Errorf("catalog: line %d: expected a list or a mapping of templates", node.Line)
	}
}

// Loader reads template files from disk.
type Loader struct{}

// NewLoader creates a new template Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml, *.yml, and *.json files.
func (l *Loader) LoadAll(directories []string) ([]Document, error) {
	var docs []Document

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".yaml", ".yml", ".json":
			default:
				return nil
			}

			doc, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return docs, nil
}

// LoadFile loads a single template file and records its checksum.
func (l *Loader) LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := l.LoadData(data)
	if err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	doc.SourceFile = path
	return doc, nil
}

// LoadData parses templates held in memory.
func (l *Loader) LoadData(data []byte) (Document, error) {
	templates, err := Decode(data)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Templates: templates,
		Checksum:  fmt.Sprintf("%x", sha256.Sum256(data)),
	}, nil
}

// Templates flattens documents into one ordered template list.
func Templates(docs []Document) []model.RequestData {
	var out []model.RequestData
	for _, d := range docs {
		out = append(out, d.Templates...)
	}
	return out
}
