package bulk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryabkov82/sf-sync-server/internal/record"
)

func fields(kv ...string) record.Fields {
	var f record.Fields
	for i := 0; i+1 < len(kv); i += 2 {
		f = append(f, record.Field{Name: kv[i], Value: record.String(kv[i+1])})
	}
	return f
}

func TestBuildUpsertKeysByExternalID(t *testing.T) {
	batch := []record.Payload{
		{Operation: record.OpUpsert, ObjectType: "Contact", ExternalIDField: "Email", Index: 0,
			Fields: fields("Email", "a@x.com", "LastName", "Smith")},
		{Operation: record.OpUpsert, ObjectType: "Contact", ExternalIDField: "Email", Index: 1,
			Fields: fields("Email", "b@x.com", "FirstName", "Ann", "LastName", "Lee")},
	}

	req, err := Build(batch)
	require.NoError(t, err)

	assert.Equal(t, "Email", req.KeyColumn)
	assert.Equal(t, []string{"Email", "LastName", "FirstName"}, req.Columns)
	require.Len(t, req.Rows, 2)
	assert.Equal(t, "a@x.com", req.Rows[0].Key)
	assert.Equal(t, []string{"a@x.com", "Smith", ""}, req.Rows[0].Values)
	assert.Equal(t, "b@x.com", req.Rows[1].Key)
	assert.Equal(t, 1, req.Rows[1].Index)

	spec := req.Spec()
	assert.Equal(t, "upsert", spec.Operation)
	assert.Equal(t, "Email", spec.ExternalIDFieldName)
	assert.Equal(t, "CSV", spec.ContentType)
}

func TestBuildRejectsMixedExternalIDFields(t *testing.T) {
	batch := []record.Payload{
		{Operation: record.OpUpsert, ObjectType: "Contact", ExternalIDField: "Email", Fields: fields("Email", "a@x.com")},
		{Operation: record.OpUpsert, ObjectType: "Contact", ExternalIDField: "Ext_Id__c", Fields: fields("Ext_Id__c", "9")},
	}

	_, err := Build(batch)
	require.Error(t, err)
	assert.True(t, record.IsConfigError(err))
}

func TestBuildRejectsMixedOperations(t *testing.T) {
	batch := []record.Payload{
		{Operation: record.OpCreate, ObjectType: "Account", Fields: fields("Name", "A")},
		{Operation: record.OpUpdate, ObjectType: "Account", RecordID: "001", Fields: fields("Name", "B")},
	}

	_, err := Build(batch)
	require.Error(t, err)
	assert.True(t, record.IsConfigError(err))
}

func TestBuildDeleteCarriesOnlyID(t *testing.T) {
	batch := []record.Payload{
		{Operation: record.OpDelete, ObjectType: "Account", RecordID: "001A", Fields: fields("Name", "ignored")},
	}

	req, err := Build(batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"Id"}, req.Columns)
	assert.Equal(t, []string{"001A"}, req.Rows[0].Values)

	body, err := req.CSV()
	require.NoError(t, err)
	assert.Equal(t, "Id\n001A\n", string(body))
}

func TestBuildCreateSyntheticKeyRoundTrip(t *testing.T) {
	batch := []record.Payload{
		{Operation: record.OpCreate, ObjectType: "Account", Index: 4,
			Fields: record.Fields{
				{Name: "Name", Value: record.String("Cafe\u0301")},
				{Name: "Phone", Value: record.Null()},
			}},
	}

	req, err := Build(batch)
	require.NoError(t, err)
	assert.Empty(t, req.KeyColumn)
	assert.Equal(t, []string{"Name", "Phone"}, req.Columns)

	row := req.Rows[0]
	assert.Equal(t, "Caf\u00e9", row.Values[0], "cells are NFC-normalized")
	assert.Equal(t, NullCell, row.Values[1])

	// Result files echo the original columns; header case may differ.
	key := req.KeyOf(map[string]string{"NAME": "Cafe\u0301", "phone": NullCell})
	assert.Equal(t, row.Key, key)
}

func TestBuildEmptyBatch(t *testing.T) {
	_, err := Build(nil)
	assert.Error(t, err)
}

func TestChunksRepeatHeader(t *testing.T) {
	req := &JobRequest{
		Columns: []string{"Id", "Name"},
		Rows: []Row{
			{Index: 0, Values: []string{"001A", "Alpha"}},
			{Index: 1, Values: []string{"001B", "Beta"}},
			{Index: 2, Values: []string{"001C", "Gamma, Inc."}},
		},
	}

	chunks, err := req.Chunks(28)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(string(c), "Id,Name\n"))
		assert.LessOrEqual(t, len(c), 28)
	}
	assert.Equal(t, "Id,Name\n001C,\"Gamma, Inc.\"\n", string(chunks[2]))

	_, err = req.Chunks(10)
	assert.Error(t, err, "a row that cannot fit any part is rejected")
}
