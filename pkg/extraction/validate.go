package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/complianceai/certpipe/pkg/classify"
)

// Skeletal schemas each tier's JSON must satisfy before its output is
// trusted. The base schema demands a document type plus at least one
// identifying field; categories that itemise equipment or defects must also
// carry at least one such list.
const baseSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["documentType"],
	"properties": {
		"documentType": {"type": "string", "minLength": 1}
	},
	"anyOf": [
		{"required": ["issueDate"]},
		{"required": ["expiryDate"]},
		{"required": ["certificateNumber"]}
	]
}`

const findingsSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["documentType"],
	"properties": {
		"documentType": {"type": "string", "minLength": 1}
	},
	"allOf": [
		{"anyOf": [
			{"required": ["issueDate"]},
			{"required": ["expiryDate"]},
			{"required": ["certificateNumber"]}
		]},
		{"anyOf": [
			{"properties": {"appliances": {"type": "array", "minItems": 1}}, "required": ["appliances"]},
			{"properties": {"defects": {"type": "array"}}, "required": ["defects"]},
			{"properties": {"observations": {"type": "array"}}, "required": ["observations"]}
		]}
	]
}`

// Validator checks tier output against the skeletal schemas.
type Validator struct {
	base     *jsonschema.Schema
	findings *jsonschema.Schema
}

// NewValidator compiles the skeletal schemas.
func NewValidator() (*Validator, error) {
	compile := func(name, src string) (*jsonschema.Schema, error) {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		sch, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		return sch, nil
	}

	base, err := compile("certificate-base.json", baseSchema)
	if err != nil {
		return nil, err
	}
	findings, err := compile("certificate-findings.json", findingsSchema)
	if err != nil {
		return nil, err
	}
	return &Validator{base: base, findings: findings}, nil
}

// categoriesRequiringFindings lists the categories whose documents itemise
// appliances or defects, so an output without any list is suspect.
var categoriesRequiringFindings = map[string]bool{
	classify.CategoryGasSafety: true,
	classify.CategoryEICR:      true,
}

// Validate checks one tier's JSON output for the given category. A nil error
// means the output may be trusted as a final result.
func (v *Validator) Validate(category string, data json.RawMessage) error {
	if len(data) == 0 {
		return fmt.Errorf("empty output")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}

	sch := v.base
	if categoriesRequiringFindings[category] {
		sch = v.findings
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
