package validate

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cercasp-go/internal/cercasp"
)

//go:embed schemas/*.schema.json
var schemaFiles embed.FS

const schemaBaseURL = "https://cercasp.local/schemas/"

// wholeRecord keys errors that are not tied to one field.
const wholeRecord = "_record"

// ValidationError lists the fields of a record that failed validation, with
// one message per field.
type ValidationError struct {
	Collection string
	Fields     map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, f := range names {
		parts[i] = f + ": " + e.Fields[f]
	}
	return fmt.Sprintf("datos inválidos en %s: %s", e.Collection, strings.Join(parts, "; "))
}

// fieldRules run before the schema so format problems get the staff-facing
// Spanish messages.
var fieldRules = map[string]map[string][]Rule{
	cercasp.CollectionPatients: {
		"name":  {RequiredRule()},
		"curp":  {Pattern(KindCURP)},
		"phone": {Pattern(KindPhone)},
		"email": {Pattern(KindEmail)},
	},
	cercasp.CollectionMedicalRecords: {
		"patientId": {RequiredRule()},
	},
	cercasp.CollectionPsychologyRecords: {
		"patientId": {RequiredRule()},
	},
	cercasp.CollectionFinanceRecords: {
		"concept": {RequiredRule()},
		"amount":  {RequiredRule(), Number},
		"rfc":     {Pattern(KindRFC)},
	},
	cercasp.CollectionSystemLogs: {
		"action": {RequiredRule()},
	},
}

// RecordValidator checks plaintext records against per-collection rules and
// JSON schemas. Collections without a schema are accepted as is.
type RecordValidator struct {
	schemas map[string]*jsonschema.Schema
}

var _ cercasp.RecordValidator = (*RecordValidator)(nil)

// NewRecordValidator compiles the embedded collection schemas.
func NewRecordValidator() (*RecordValidator, error) {
	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("reading schemas: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		f, err := schemaFiles.Open(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("opening schema %s: %w", e.Name(), err)
		}
		err = c.AddResource(schemaBaseURL+e.Name(), f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("loading schema %s: %w", e.Name(), err)
		}
		names = append(names, e.Name())
	}

	schemas := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		compiled, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", name, err)
		}
		schemas[strings.TrimSuffix(name, ".schema.json")] = compiled
	}
	return &RecordValidator{schemas: schemas}, nil
}

// Validate returns a *ValidationError describing every failing field.
func (v *RecordValidator) Validate(collection string, r cercasp.Record) error {
	fields := make(map[string]string)

	if rules, found := fieldRules[collection]; found {
		if _, errs := Form(r, rules); len(errs) > 0 {
			for f, msg := range errs {
				fields[f] = msg
			}
		}
	}

	if schema, found := v.schemas[collection]; found {
		doc, err := r.Normalize()
		if err != nil {
			return fmt.Errorf("validating %s: %w", collection, err)
		}
		if err := schema.Validate(map[string]any(doc)); err != nil {
			var ve *jsonschema.ValidationError
			if !errors.As(err, &ve) {
				return fmt.Errorf("validating %s: %w", collection, err)
			}
			for _, leaf := range leaves(ve) {
				// Required fields all have a RequiredRule above.
				if strings.HasSuffix(leaf.KeywordLocation, "/required") {
					continue
				}
				field := strings.TrimPrefix(leaf.InstanceLocation, "/")
				if field == "" {
					field = wholeRecord
				}
				if _, seen := fields[field]; !seen {
					fields[field] = leaf.Message
				}
			}
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Collection: collection, Fields: fields}
	}
	return nil
}

func leaves(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}
