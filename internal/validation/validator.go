// Package validation checks JSON workflow documents against an embedded
// JSON Schema before they reach the workflow engine, so malformed documents
// fail with precise locations instead of mid-registration.
package validation

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/boxos/boxcore/internal/workflow"
	"github.com/boxos/boxcore/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for workflow documents. Embedded as
// a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://boxos.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "route", "nodes"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "route": {
      "type": "array",
      "minItems": 1,
      "maxItems": 8,
      "items": {
        "type": "integer",
        "minimum": 1,
        "maximum": 255
      }
    },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "integer",
          "minimum": 1
        },
        "payload_text": { "type": "string" },
        "payload_hex": {
          "type": "string",
          "pattern": "^([0-9a-fA-F]{2})*$"
        },
        "depends_on": {
          "type": "array",
          "items": {
            "type": "integer",
            "minimum": 0
          }
        },
        "guard": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// WorkflowDoc is the JSON form of a workflow template.
type WorkflowDoc struct {
	Name  string    `json:"name"`
	Route []uint8   `json:"route"`
	Nodes []NodeDoc `json:"nodes"`
}

// NodeDoc is the JSON form of one node. PayloadText is encoded with the
// console-write layout; PayloadHex is copied verbatim into the payload
// region. Declaring both is rejected.
type NodeDoc struct {
	Name        string `json:"name"`
	Type        uint32 `json:"type"`
	PayloadText string `json:"payload_text,omitempty"`
	PayloadHex  string `json:"payload_hex,omitempty"`
	DependsOn   []int  `json:"depends_on,omitempty"`
	Guard       string `json:"guard,omitempty"`
}

// Validator validates and parses workflow documents.
type Validator struct {
	compiled *jsonschema.Schema
}

// NewValidator compiles the embedded workflow schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://boxos.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile("https://boxos.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &Validator{compiled: compiled}, nil
}

// Validate checks raw JSON against the workflow schema.
func (v *Validator) Validate(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrInvalidParameter, "workflow document is not valid JSON").WithCause(err)
	}
	if err := v.compiled.Validate(doc); err != nil {
		return toBoxError(err)
	}
	return nil
}

// Parse validates raw JSON and decodes it into a WorkflowDoc, applying the
// structural checks JSON Schema cannot express.
func (v *Validator) Parse(raw []byte) (*WorkflowDoc, error) {
	if err := v.Validate(raw); err != nil {
		return nil, err
	}
	var doc WorkflowDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewError(schema.ErrInvalidParameter, "workflow document decode failed").WithCause(err)
	}

	seen := make(map[string]struct{}, len(doc.Nodes))
	for i, n := range doc.Nodes {
		if _, dup := seen[n.Name]; dup {
			return nil, schema.NewErrorf(schema.ErrInvalidParameter, "duplicate node name %q", n.Name)
		}
		seen[n.Name] = struct{}{}
		if n.PayloadText != "" && n.PayloadHex != "" {
			return nil, schema.NewErrorf(schema.ErrInvalidParameter,
				"node %d declares both payload_text and payload_hex", i)
		}
	}
	return &doc, nil
}

// Templates converts a parsed document into node templates for registration.
func (doc *WorkflowDoc) Templates() ([]workflow.NodeTemplate, error) {
	out := make([]workflow.NodeTemplate, len(doc.Nodes))
	for i, n := range doc.Nodes {
		tmpl := workflow.NodeTemplate{
			Name:      n.Name,
			Type:      n.Type,
			DependsOn: n.DependsOn,
			Guard:     n.Guard,
		}
		switch {
		case n.PayloadText != "":
			var p [schema.PayloadSize]byte
			schema.EncodeConsoleWrite(&p, []byte(n.PayloadText))
			tmpl.Payload = p[:]
		case n.PayloadHex != "":
			data, err := hex.DecodeString(n.PayloadHex)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrInvalidParameter,
					"node %d: invalid payload_hex", i).WithCause(err)
			}
			if len(data) > schema.PayloadSize {
				return nil, schema.NewErrorf(schema.ErrInvalidParameter,
					"node %d: payload exceeds %d bytes", i, schema.PayloadSize)
			}
			tmpl.Payload = data
		}
		out[i] = tmpl
	}
	return out, nil
}

// toBoxError converts a jsonschema.ValidationError into a BoxError carrying
// every leaf violation with its instance location.
func toBoxError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrInvalidParameter, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrInvalidParameter, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrInvalidParameter, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrInvalidParameter,
		"workflow document failed validation with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
