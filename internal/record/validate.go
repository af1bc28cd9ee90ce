package record

import (
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Mode selects which identification rules apply
type Mode int

const (
	// ModeSingle allows lookup traits in place of a record or external id
	ModeSingle Mode = iota
	// ModeBulk requires ids that can be written into a bulk job row
	ModeBulk
)

// ObjectRules maps an object name to the fields required to create it
type ObjectRules map[string][]string

// DefaultObjectRules lists required create fields for standard objects
var DefaultObjectRules = ObjectRules{
	"Account":     {"Name"},
	"Contact":     {"LastName"},
	"Lead":        {"LastName", "Company"},
	"Opportunity": {"Name", "StageName", "CloseDate"},
}

// Validator checks that payloads carry enough information for their operation
type Validator struct {
	required map[string][]string
}

// NewValidator creates a validator from DefaultObjectRules plus extra rules.
// Extra rules replace the defaults for the same object.
func NewValidator(extra ObjectRules) *Validator {
	v := &Validator{required: make(map[string][]string)}
	for obj, fields := range DefaultObjectRules {
		v.required[strings.ToLower(obj)] = fields
	}
	for obj, fields := range extra {
		v.required[strings.ToLower(obj)] = fields
	}
	return v
}

// RequiredFields returns the fields required to create objectType
func (v *Validator) RequiredFields(objectType string) []string {
	return v.required[strings.ToLower(objectType)]
}

// Validate checks p against the rules for its operation. It has no side
// effects and returns a *ConfigError on failure.
func (v *Validator) Validate(p Payload, mode Mode) error {
	if !p.Operation.Valid() {
		return payloadError(p, "operation", "unknown operation %q", p.Operation)
	}
	if strings.TrimSpace(p.ObjectType) == "" {
		return payloadError(p, "objectType", "object type is required")
	}
	if len(p.Lookup) > 0 && p.MatcherOperator != "" && p.MatcherOperator != MatchOR && p.MatcherOperator != MatchAND {
		return payloadError(p, "recordMatcherOperator", "must be OR or AND, got %q", p.MatcherOperator)
	}

	switch p.Operation {
	case OpCreate:
		return v.checkRequired(p)

	case OpUpdate, OpDelete:
		if strings.TrimSpace(p.RecordID) != "" {
			return nil
		}
		if mode == ModeSingle && hasLookup(p) {
			return nil
		}
		if mode == ModeBulk {
			return payloadError(p, "recordId", "record id is required for bulk %s", p.Operation)
		}
		return payloadError(p, "recordId", "record id or lookup fields are required for %s", p.Operation)

	case OpUpsert:
		switch {
		case p.ExternalIDField != "" && strings.TrimSpace(p.ExternalID()) != "":
		case p.ExternalIDField != "":
			return payloadError(p, p.ExternalIDField, "external id value is empty")
		case mode == ModeSingle && hasLookup(p):
		case mode == ModeBulk:
			return payloadError(p, "externalIdField", "external id field is required for bulk upsert")
		default:
			return payloadError(p, "externalIdField", "external id field or lookup fields are required for upsert")
		}
		return v.checkRequired(p)
	}
	return nil
}

// ValidateAll validates every payload and returns the indexes of the valid
// ones together with the aggregated errors of the rest.
func (v *Validator) ValidateAll(payloads []Payload, mode Mode) ([]int, error) {
	var result *multierror.Error
	valid := make([]int, 0, len(payloads))
	for i, p := range payloads {
		if err := v.Validate(p, mode); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		valid = append(valid, i)
	}
	return valid, result.ErrorOrNil()
}

// ValidateBatch checks the batch-level rules of the bulk path: one operation,
// one object type, and for upsert one external id field.
func ValidateBatch(payloads []Payload, objectType string, op Operation) error {
	if !op.Valid() {
		return BatchError(objectType, op, "unknown operation %q", op)
	}
	if strings.TrimSpace(objectType) == "" {
		return BatchError(objectType, op, "object type is required")
	}
	if !objectNamePattern.MatchString(objectType) {
		return BatchError(objectType, op, "invalid object type %q", objectType)
	}

	extField := ""
	for _, p := range payloads {
		if p.Operation != op {
			return BatchError(objectType, op, "record %d has operation %q", p.Index, p.Operation)
		}
		if !strings.EqualFold(p.ObjectType, objectType) {
			return BatchError(objectType, op, "record %d has object type %q", p.Index, p.ObjectType)
		}
		if op != OpUpsert || p.ExternalIDField == "" {
			continue
		}
		if extField == "" {
			extField = p.ExternalIDField
		} else if !strings.EqualFold(extField, p.ExternalIDField) {
			return BatchError(objectType, op, "mixed external id fields %q and %q in one job", extField, p.ExternalIDField)
		}
	}
	return nil
}

var objectNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func (v *Validator) checkRequired(p Payload) error {
	for _, name := range v.RequiredFields(p.ObjectType) {
		if !p.Fields.Has(name) {
			return payloadError(p, name, "missing %s value", name)
		}
	}
	return nil
}

func hasLookup(p Payload) bool {
	for _, f := range p.Lookup {
		if !f.Value.IsBlank() {
			return true
		}
	}
	return false
}
