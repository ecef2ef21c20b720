// Package openapi parses the intake REST contract and resolves its
// operations by operationId. The gateway builds request URLs from it and
// the reference backend checks request bodies against it.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Operation IDs of the intake contract.
const (
	OpGetSchemas           = "getSchemas"
	OpListRequests         = "listRequests"
	OpUpdateQuestionAnswer = "updateQuestionAnswer"
	OpCreateSubmission     = "createSubmission"
)

//go:embed intake.yaml
var document []byte

// Document returns a copy of the embedded intake OpenAPI document.
func Document() []byte {
	out := make([]byte, len(document))
	copy(out, document)
	return out
}

// Operation is one resolved operation of the contract.
type Operation struct {
	ID           string
	Method       string
	PathTemplate string
	BaseURL      string
	Parameters   []*openapi3.Parameter

	body *openapi3.Schema
}

// URL expands the path template with params, path-escaping each value, and
// prefixes the base URL.
func (op Operation) URL(params map[string]string) string {
	path := op.PathTemplate
	for name, value := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}
	return strings.TrimSuffix(op.BaseURL, "/") + path
}

// HasBody reports whether the operation declares a JSON request body.
func (op Operation) HasBody() bool { return op.body != nil }

// ValidationError is one request body violation.
type ValidationError struct {
	Field   string
	Message string
}

// Contract is an immutable, parsed intake contract.
type Contract struct {
	title   string
	version string
	ops     map[string]Operation
}

// New returns the embedded intake contract. An empty baseURL keeps the
// document's first server URL.
func New(baseURL string) (*Contract, error) {
	return Parse(document, baseURL)
}

// Load reads and parses a contract file.
func Load(path, baseURL string) (*Contract, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading %s: %w", path, err)
	}
	return build(doc, baseURL)
}

// Parse parses a contract held in memory.
func Parse(data []byte, baseURL string) (*Contract, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: parsing contract: %w", err)
	}
	return build(doc, baseURL)
}

func build(doc *openapi3.T, baseURL string) (*Contract, error) {
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating contract: %w", err)
	}
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}

	c := &Contract{ops: make(map[string]Operation)}
	if doc.Info != nil {
		c.title, c.version = doc.Info.Title, doc.Info.Version
	}

	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			if _, dup := c.ops[op.OperationID]; dup {
				return nil, fmt.Errorf("openapi: duplicate operationId %q", op.OperationID)
			}

			var params []*openapi3.Parameter
			for _, refs := range []openapi3.Parameters{item.Parameters, op.Parameters} {
				for _, ref := range refs {
					if ref.Value != nil {
						params = append(params, ref.Value)
					}
				}
			}

			c.ops[op.OperationID] = Operation{
				ID:           op.OperationID,
				Method:       method,
				PathTemplate: path,
				BaseURL:      baseURL,
				Parameters:   params,
				body:         jsonBodySchema(op),
			}
		}
	}
	if len(c.ops) == 0 {
		return nil, errors.New("openapi: contract declares no operations")
	}
	return c, nil
}

func jsonBodySchema(op *openapi3.Operation) *openapi3.Schema {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil
	}
	mt := op.RequestBody.Value.Content.Get("application/json")
	if mt == nil || mt.Schema == nil {
		return nil
	}
	return mt.Schema.Value
}

// Title returns the contract title.
func (c *Contract) Title() string { return c.title }

// Version returns the contract version.
func (c *Contract) Version() string { return c.version }

// Loaded reports whether c holds a parsed contract.
func (c *Contract) Loaded() bool { return c != nil && len(c.ops) > 0 }

// Operation returns the operation with the given operationId.
func (c *Contract) Operation(id string) (Operation, bool) {
	op, ok := c.ops[id]
	return op, ok
}

// OperationIDs returns every operationId, sorted.
func (c *Contract) OperationIDs() []string {
	ids := make([]string, 0, len(c.ops))
	for id := range c.ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateBody checks body against the request schema of operation id.
// Missing required properties are reported first; the full schema is only
// applied to a body that has them all. A nil property counts as missing.
func (c *Contract) ValidateBody(id string, body map[string]any) []ValidationError {
	op, ok := c.ops[id]
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s not found", id)}}
	}
	if op.body == nil {
		return nil
	}

	var errs []ValidationError
	for _, name := range op.body.Required {
		if v, exists := body[name]; !exists || v == nil {
			errs = append(errs, ValidationError{Field: name, Message: name + " is required"})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	if err := op.body.VisitJSON(body, openapi3.MultiErrors()); err != nil {
		return schemaErrors(err)
	}
	return nil
}

func schemaErrors(err error) []ValidationError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []ValidationError
		for _, e := range multi {
			out = append(out, schemaErrors(e)...)
		}
		return out
	}

	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		return []ValidationError{{
			Field:   strings.Join(se.JSONPointer(), "."),
			Message: se.Reason,
		}}
	}
	return []ValidationError{{Message: err.Error()}}
}
