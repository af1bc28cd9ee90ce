package mapping

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryabkov82/sf-sync-server/internal/record"
)

func TestAccountPayloadUpsert(t *testing.T) {
	raw := `{
		"operation": "upsert",
		"bulkUpsertExternalId": {"externalIdName": "Ext_Id__c", "externalIdValue": "ext-1"},
		"traits": {"Name": "Acme"},
		"name": "Acme",
		"number_of_employees": 42,
		"billing_city": "Oslo",
		"customFields": {"Tier__c": "gold", "Name": "Acme AS"}
	}`

	var a Account
	require.NoError(t, json.Unmarshal([]byte(raw), &a))

	p := a.Payload(3)
	assert.Equal(t, record.OpUpsert, p.Operation)
	assert.Equal(t, AccountObject, p.ObjectType)
	assert.Equal(t, 3, p.Index)
	assert.Equal(t, "Ext_Id__c", p.ExternalIDField)
	assert.Equal(t, "ext-1", p.ExternalID())
	assert.Equal(t, []string{"Name"}, p.Lookup.Names())

	assert.Equal(t, []string{"Name", "NumberOfEmployees", "BillingCity", "Tier__c"}, p.Fields.Names())
	name, _ := p.Fields.Get("Name")
	assert.Equal(t, "Acme AS", name.Text(), "custom fields override standard ones")
	emp, _ := p.Fields.Get("NumberOfEmployees")
	assert.Equal(t, record.TypeNumber, emp.Type())
	assert.Equal(t, "42", emp.Text())
}

func TestAccountPayloadDeleteHasNoFields(t *testing.T) {
	a := Account{Operation: record.OpDelete, BulkUpdateRecordID: "001A", Name: "Acme"}
	p := a.Payload(0)
	assert.Equal(t, "001A", p.RecordID)
	assert.Empty(t, p.Fields)
}

func TestAccountsRequireOneOperation(t *testing.T) {
	payloads, op, err := Accounts([]Account{
		{Operation: record.OpCreate, Name: "A"},
		{Operation: record.OpCreate, Name: "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, record.OpCreate, op)
	assert.Equal(t, 1, payloads[1].Index)

	_, _, err = Accounts([]Account{
		{Operation: record.OpCreate, Name: "A"},
		{Operation: record.OpUpdate, BulkUpdateRecordID: "001"},
	})
	assert.Error(t, err)
}

func TestAccountCreateWithoutNameFailsValidation(t *testing.T) {
	p := Account{Operation: record.OpCreate, Phone: "555"}.Payload(0)
	err := record.NewValidator(nil).Validate(p, record.ModeSingle)
	assert.True(t, record.IsConfigError(err))
}
