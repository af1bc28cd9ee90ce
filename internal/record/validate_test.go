package record

import (
	"errors"
	"strings"
	"testing"
)

func accountPayload(op Operation) Payload {
	return Payload{
		Operation:  op,
		ObjectType: "Account",
		Fields:     Fields{{Name: "Name", Value: String("Acme")}},
	}
}

func TestValidateCreateRequiresName(t *testing.T) {
	v := NewValidator(nil)

	p := accountPayload(OpCreate)
	if err := v.Validate(p, ModeBulk); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	p.Fields = Fields{{Name: "Phone", Value: String("555")}}
	err := v.Validate(p, ModeBulk)
	if err == nil {
		t.Fatal("Validate() expected error for missing Name")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if ce.Field != "Name" {
		t.Errorf("Field = %q, want Name", ce.Field)
	}
}

func TestValidateUpdateDelete(t *testing.T) {
	v := NewValidator(nil)

	for _, op := range []Operation{OpUpdate, OpDelete} {
		p := Payload{Operation: op, ObjectType: "Account", Index: 4}

		if err := v.Validate(p, ModeSingle); err == nil {
			t.Errorf("%s without id or lookup: expected error", op)
		}

		p.Lookup = Fields{{Name: "Email", Value: String("a@x.com")}}
		if err := v.Validate(p, ModeSingle); err != nil {
			t.Errorf("%s with lookup (single): unexpected error %v", op, err)
		}
		if err := v.Validate(p, ModeBulk); err == nil {
			t.Errorf("%s with lookup only (bulk): expected error", op)
		}

		p.RecordID = "001xx000003DGb2AAG"
		if err := v.Validate(p, ModeBulk); err != nil {
			t.Errorf("%s with record id: unexpected error %v", op, err)
		}
	}
}

func TestValidateUpsert(t *testing.T) {
	v := NewValidator(nil)

	p := accountPayload(OpUpsert)
	if err := v.Validate(p, ModeBulk); err == nil {
		t.Error("upsert without external id field: expected error")
	}

	p.ExternalIDField = "External_Id__c"
	if err := v.Validate(p, ModeBulk); err == nil {
		t.Error("upsert with empty external id value: expected error")
	}

	p.Fields.Set("External_Id__c", String("ext-1"))
	if err := v.Validate(p, ModeBulk); err != nil {
		t.Errorf("upsert with external id in fields: unexpected error %v", err)
	}

	p.Fields = Fields{{Name: "External_Id__c", Value: String("ext-1")}}
	if err := v.Validate(p, ModeBulk); err == nil {
		t.Error("upsert without Name: expected error")
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	v := NewValidator(nil)
	p := accountPayload(OpUpsert)
	p.ExternalIDField = "AccountNumber"
	p.ExternalIDValue = "A-1"

	for i := 0; i < 3; i++ {
		if err := v.Validate(p, ModeBulk); err != nil {
			t.Fatalf("pass %d: Validate() error = %v", i, err)
		}
	}
}

func TestValidateExtraRulesOverrideDefaults(t *testing.T) {
	v := NewValidator(ObjectRules{"Account": {"Name", "Industry"}, "Widget__c": {"Code__c"}})

	p := accountPayload(OpCreate)
	if err := v.Validate(p, ModeSingle); err == nil {
		t.Error("expected Industry to be required")
	}

	w := Payload{Operation: OpCreate, ObjectType: "widget__c"}
	if err := v.Validate(w, ModeSingle); err == nil {
		t.Error("expected Code__c to be required (case-insensitive object)")
	}
}

func TestValidateAllAggregates(t *testing.T) {
	v := NewValidator(nil)
	payloads := []Payload{
		accountPayload(OpCreate),
		{Operation: OpCreate, ObjectType: "Account", Index: 1},
		{Operation: OpCreate, ObjectType: "Account", Index: 2},
	}
	payloads[0].Index = 0

	valid, err := v.ValidateAll(payloads, ModeBulk)
	if len(valid) != 1 || valid[0] != 0 {
		t.Errorf("valid = %v, want [0]", valid)
	}
	if err == nil || !strings.Contains(err.Error(), "2 errors occurred") {
		t.Errorf("expected aggregated error, got %v", err)
	}
	if !IsConfigError(err) {
		t.Error("aggregated error should unwrap to *ConfigError")
	}
}

func TestValidateBatchMixedExternalIDs(t *testing.T) {
	a := accountPayload(OpUpsert)
	a.ExternalIDField = "Email__c"
	b := accountPayload(OpUpsert)
	b.ExternalIDField = "AccountNumber"
	b.Index = 1

	err := ValidateBatch([]Payload{a, b}, "Account", OpUpsert)
	if err == nil {
		t.Fatal("expected error for mixed external id fields")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Index != -1 {
		t.Errorf("expected batch-level ConfigError, got %v", err)
	}

	b.ExternalIDField = "email__c"
	if err := ValidateBatch([]Payload{a, b}, "Account", OpUpsert); err != nil {
		t.Errorf("same field with different case: unexpected error %v", err)
	}
}

func TestValidateBatchHeterogeneous(t *testing.T) {
	a := accountPayload(OpCreate)
	b := accountPayload(OpUpdate)
	if err := ValidateBatch([]Payload{a, b}, "Account", OpCreate); err == nil {
		t.Error("expected error for mixed operations")
	}

	c := accountPayload(OpCreate)
	c.ObjectType = "Contact"
	if err := ValidateBatch([]Payload{a, c}, "Account", OpCreate); err == nil {
		t.Error("expected error for mixed object types")
	}

	if err := ValidateBatch(nil, "Account", Operation("merge")); err == nil {
		t.Error("expected error for unknown operation")
	}
}
