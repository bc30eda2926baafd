package protocol

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// frameSchemas describe the documented shape of every status that has
// required fields.  Extra fields are always allowed.
var frameSchemas = map[Status]string{
	StatusConnecting: `{
		"type": "object",
		"required": ["status", "stage"],
		"properties": {"stage": {"type": "string"}}
	}`,
	StatusFatal: `{
		"type": "object",
		"required": ["status", "error"],
		"properties": {"error": {"type": ["string", "array"]}}
	}`,
	StatusError: `{
		"type": "object",
		"required": ["status", "error"],
		"properties": {"error": {"type": ["string", "number", "array"]}}
	}`,
	StatusOK: `{
		"type": "object",
		"required": ["status"],
		"properties": {"task": {"type": "string"}}
	}`,
	StatusUploading: `{
		"type": "object",
		"required": ["status", "sent"],
		"properties": {
			"sent": {"type": "number", "minimum": 0},
			"amount": {"type": "number", "minimum": 0}
		}
	}`,
	StatusBinary: `{
		"type": "object",
		"required": ["status", "mimetype"],
		"anyOf": [{"required": ["size"]}, {"required": ["length"]}],
		"properties": {
			"mimetype": {"type": "string"},
			"size": {"type": "integer", "minimum": 0},
			"length": {"type": "integer", "minimum": 0}
		}
	}`,
	StatusTransfer: `{
		"type": "object",
		"required": ["status", "completed", "size"],
		"properties": {
			"completed": {"type": "number", "minimum": 0},
			"size": {"type": "number", "minimum": 0}
		}
	}`,
	StatusRaw: `{
		"type": "object",
		"required": ["status", "text"],
		"properties": {"text": {"type": "string"}}
	}`,
}

// Validator checks inbound frames against the documented wire shapes.
// It never rejects unknown statuses.
type Validator struct {
	schemas map[Status]*gojsonschema.Schema
}

// NewValidator compiles the frame schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[Status]*gojsonschema.Schema, len(frameSchemas))}
	for status, src := range frameSchemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", status, err)
		}
		v.schemas[status] = s
	}
	return v, nil
}

// Validate returns an error describing every violation in p.
func (v *Validator) Validate(p Payload) error {
	if v == nil {
		return nil
	}
	status := p.Status()
	if status == "" {
		return fmt.Errorf("frame has no status")
	}
	schema, ok := v.schemas[status]
	if !ok {
		return nil
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(p)))
	if err != nil {
		return fmt.Errorf("validate %s frame: %w", status, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s frame: %s", status, strings.Join(msgs, "; "))
}
