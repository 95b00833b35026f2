// Package validator enforces the closed event envelope schema for single
// events and batches. Validation is all-or-nothing per call.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// ErrInvalidSchema is wrapped by every *Error.
var ErrInvalidSchema = errors.New("invalid event schema")

// DefaultMaxBatchSize is used when New is given a non-positive limit.
const DefaultMaxBatchSize = 100

// FieldError is one violation. Path is dotted, with batch entries prefixed
// by their index ("[2].payload.foo"); the empty path means the whole body.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error lists every violation found in one call.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Path == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Path+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidSchema, strings.Join(parts, "; "))
}

func (e *Error) Unwrap() error { return ErrInvalidSchema }

// Validator checks raw JSON against the envelope schema. It is safe for
// concurrent use.
type Validator struct {
	validate     *validator.Validate
	maxBatchSize int
	envelopeKeys map[string]struct{}
	payloadKeys  map[string]struct{}
}

// New creates a Validator accepting batches of at most maxBatchSize events.
func New(maxBatchSize int) *Validator {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(jsonName)

	return &Validator{
		validate:     validate,
		maxBatchSize: maxBatchSize,
		envelopeKeys: jsonKeys(reflect.TypeOf(models.RawEventEnvelope{})),
		payloadKeys:  jsonKeys(reflect.TypeOf(models.EventPayload{})),
	}
}

// MaxBatchSize returns the configured batch limit.
func (v *Validator) MaxBatchSize() int { return v.maxBatchSize }

// Validate parses one envelope.
func (v *Validator) Validate(data []byte) (*models.RawEventEnvelope, error) {
	env, errs := v.envelope(data, "")
	if len(errs) > 0 {
		return nil, &Error{Fields: errs}
	}
	return env, nil
}

// ValidateBatch parses a JSON array of envelopes. Any violation in any entry
// rejects the whole batch.
func (v *Validator) ValidateBatch(data []byte) ([]*models.RawEventEnvelope, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil || items == nil {
		return nil, &Error{Fields: []FieldError{{Path: "", Message: "expected a JSON array of events"}}}
	}
	if len(items) > v.maxBatchSize {
		return nil, &Error{Fields: []FieldError{{
			Path:    "",
			Message: fmt.Sprintf("batch exceeds maximum of %d events", v.maxBatchSize),
		}}}
	}

	envelopes := make([]*models.RawEventEnvelope, len(items))
	var errs []FieldError
	for i, item := range items {
		env, itemErrs := v.envelope(item, fmt.Sprintf("[%d]", i))
		errs = append(errs, itemErrs...)
		envelopes[i] = env
	}
	if len(errs) > 0 {
		return nil, &Error{Fields: errs}
	}
	return envelopes, nil
}

func (v *Validator) envelope(data []byte, prefix string) (*models.RawEventEnvelope, []FieldError) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return nil, []FieldError{{Path: prefix, Message: "expected a JSON object"}}
	}

	var errs []FieldError
	errs = append(errs, unknownKeys(top, v.envelopeKeys, join(prefix, ""))...)

	if _, ok := top["type"]; !ok {
		errs = append(errs, FieldError{Path: join(prefix, "type"), Message: "is required"})
	}
	payload, ok := top["payload"]
	if !ok {
		errs = append(errs, FieldError{Path: join(prefix, "payload"), Message: "is required"})
	} else {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
			errs = append(errs, FieldError{Path: join(prefix, "payload"), Message: "expected a JSON object"})
		} else {
			errs = append(errs, unknownKeys(fields, v.payloadKeys, join(prefix, "payload"))...)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	var env models.RawEventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, []FieldError{decodeError(err, prefix)}
	}

	if err := v.validate.Struct(&env); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, []FieldError{{Path: prefix, Message: err.Error()}}
		}
		for _, fe := range verrs {
			errs = append(errs, FieldError{Path: join(prefix, namespacePath(fe.Namespace())), Message: message(fe)})
		}
	}

	if env.Type == models.EventTypeTrack && (env.Payload.Name == nil || *env.Payload.Name == "") {
		errs = append(errs, FieldError{Path: join(prefix, "payload.name"), Message: "is required for track events"})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &env, nil
}

func unknownKeys(fields map[string]json.RawMessage, known map[string]struct{}, prefix string) []FieldError {
	var unknown []string
	for k := range fields {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)

	errs := make([]FieldError, 0, len(unknown))
	for _, k := range unknown {
		errs = append(errs, FieldError{Path: join(prefix, k), Message: "unknown field"})
	}
	return errs
}

func decodeError(err error, prefix string) FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return FieldError{
			Path:    join(prefix, typeErr.Field),
			Message: fmt.Sprintf("expected %s, got %s", typeName(typeErr.Type), typeErr.Value),
		}
	}
	return FieldError{Path: prefix, Message: err.Error()}
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "integer"
	case reflect.Map, reflect.Struct:
		return "object"
	}
	return t.String()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

// namespacePath drops the root struct name from a validator namespace.
func namespacePath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

func join(prefix, path string) string {
	switch {
	case path == "":
		return prefix
	case prefix == "":
		return path
	}
	return prefix + "." + path
}

func jsonName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func jsonKeys(t reflect.Type) map[string]struct{} {
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if name := jsonName(t.Field(i)); name != "" {
			keys[name] = struct{}{}
		}
	}
	return keys
}

// IsSchemaError reports whether err is a validation failure and returns its
// field list.
func IsSchemaError(err error) ([]FieldError, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields, true
	}
	return nil, false
}

