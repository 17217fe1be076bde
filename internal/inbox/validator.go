package inbox

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"driftsync.app/core/core/config"
	"driftsync.app/core/internal/model"
)

// Validator applies per-entity-type validation policy: required identifying
// fields first, then an optional JSON Schema. It returns structured
// field-level errors, never an error value, so invalid payloads are stored
// rather than rejected.
type Validator struct {
	rules   *config.Rules
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles any schema files referenced by the entity rules.
// Schema paths are resolved relative to baseDir.
func NewValidator(rules *config.Rules, baseDir string) (*Validator, error) {
	v := &Validator{
		rules:   rules,
		schemas: make(map[string]*jsonschema.Schema),
	}
	if rules == nil {
		return v, nil
	}

	compiler := jsonschema.NewCompiler()
	for entityType, rule := range rules.Entities {
		if rule.SchemaFile == "" {
			continue
		}
		path := rule.SchemaFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		schema, err := compiler.Compile(path)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for entity %q: %w", entityType, err)
		}
		v.schemas[entityType] = schema
	}
	return v, nil
}

// Validate checks the payload against the entity type's rules. An unknown
// entity type is an error in itself: the core cannot process what it cannot
// route to a handler.
func (v *Validator) Validate(entityType string, payload json.RawMessage) []model.FieldError {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return []model.FieldError{{Field: "", Message: "payload is not a JSON object"}}
	}

	rule, known := v.rules.ForEntity(entityType)
	if !known {
		return []model.FieldError{{
			Field:   "entity_type",
			Message: fmt.Sprintf("no validation rule registered for entity type %q", entityType),
		}}
	}

	var errs []model.FieldError
	for _, field := range rule.RequiredFields {
		val, ok := doc[field]
		if !ok || val == nil || val == "" {
			errs = append(errs, model.FieldError{
				Field:   field,
				Message: "required field is missing or empty",
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	schema, ok := v.schemas[entityType]
	if !ok {
		return nil
	}

	if err := schema.Validate(doc); err != nil {
		var vErr *jsonschema.ValidationError
		if ok := asValidationError(err, &vErr); ok {
			return flattenSchemaErrors(vErr)
		}
		return []model.FieldError{{Field: "", Message: err.Error()}}
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	vErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return false
	}
	*target = vErr
	return true
}

var schemaErrPrinter = message.NewPrinter(language.English)

// flattenSchemaErrors walks the cause tree and keeps the leaves, which
// carry the most specific instance locations.
func flattenSchemaErrors(vErr *jsonschema.ValidationError) []model.FieldError {
	if len(vErr.Causes) == 0 {
		return []model.FieldError{{
			Field:   strings.Join(vErr.InstanceLocation, "."),
			Message: vErr.ErrorKind.LocalizedString(schemaErrPrinter),
		}}
	}
	var errs []model.FieldError
	for _, cause := range vErr.Causes {
		errs = append(errs, flattenSchemaErrors(cause)...)
	}
	return errs
}
