// Package mapping turns typed destination records into record payloads.
package mapping

import (
	"fmt"

	"github.com/ryabkov82/sf-sync-server/internal/record"
)

// AccountObject is the Salesforce object written by Account records
const AccountObject = "Account"

// ExternalID names the external id used by bulk upserts
type ExternalID struct {
	Name  string `json:"externalIdName"`
	Value string `json:"externalIdValue"`
}

// Account is one account record as delivered by the event pipeline
type Account struct {
	Operation             record.Operation       `json:"operation"`
	RecordMatcherOperator record.MatcherOperator `json:"recordMatcherOperator,omitempty"`

	// Traits are the lookup fields used to find an existing account
	Traits               record.Fields `json:"traits,omitempty"`
	BulkUpsertExternalID *ExternalID   `json:"bulkUpsertExternalId,omitempty"`
	BulkUpdateRecordID   string        `json:"bulkUpdateRecordId,omitempty"`

	Name              string `json:"name,omitempty"`
	AccountNumber     string `json:"account_number,omitempty"`
	NumberOfEmployees *int64 `json:"number_of_employees,omitempty"`

	BillingCity       string `json:"billing_city,omitempty"`
	BillingPostalCode string `json:"billing_postal_code,omitempty"`
	BillingCountry    string `json:"billing_country,omitempty"`
	BillingStreet     string `json:"billing_street,omitempty"`
	BillingState      string `json:"billing_state,omitempty"`

	ShippingCity       string `json:"shipping_city,omitempty"`
	ShippingPostalCode string `json:"shipping_postal_code,omitempty"`
	ShippingCountry    string `json:"shipping_country,omitempty"`
	ShippingStreet     string `json:"shipping_street,omitempty"`
	ShippingState      string `json:"shipping_state,omitempty"`

	Phone       string `json:"phone,omitempty"`
	Description string `json:"description,omitempty"`
	Website     string `json:"website,omitempty"`

	// CustomFields are written as-is and win over the standard fields
	CustomFields record.Fields `json:"customFields,omitempty"`
}

// Payload maps the account to a payload at batch position index
func (a Account) Payload(index int) record.Payload {
	p := record.Payload{
		Operation:       a.Operation,
		ObjectType:      AccountObject,
		Lookup:          a.Traits,
		MatcherOperator: a.RecordMatcherOperator,
		Index:           index,
	}

	switch a.Operation {
	case record.OpUpdate, record.OpDelete:
		p.RecordID = a.BulkUpdateRecordID
	case record.OpUpsert:
		if a.BulkUpsertExternalID != nil {
			p.ExternalIDField = a.BulkUpsertExternalID.Name
			p.ExternalIDValue = a.BulkUpsertExternalID.Value
		}
	}

	if a.Operation == record.OpDelete {
		return p
	}

	var f record.Fields
	set := func(name, v string) {
		if v != "" {
			f.Set(name, record.String(v))
		}
	}
	set("Name", a.Name)
	set("AccountNumber", a.AccountNumber)
	if a.NumberOfEmployees != nil {
		f.Set("NumberOfEmployees", record.Int(*a.NumberOfEmployees))
	}
	set("BillingCity", a.BillingCity)
	set("BillingPostalCode", a.BillingPostalCode)
	set("BillingCountry", a.BillingCountry)
	set("BillingStreet", a.BillingStreet)
	set("BillingState", a.BillingState)
	set("ShippingCity", a.ShippingCity)
	set("ShippingPostalCode", a.ShippingPostalCode)
	set("ShippingCountry", a.ShippingCountry)
	set("ShippingStreet", a.ShippingStreet)
	set("ShippingState", a.ShippingState)
	set("Phone", a.Phone)
	set("Description", a.Description)
	set("Website", a.Website)

	for _, cf := range a.CustomFields {
		f.Set(cf.Name, cf.Value)
	}
	p.Fields = f
	return p
}

// Accounts maps a batch of accounts. All accounts must share one operation.
func Accounts(accounts []Account) ([]record.Payload, record.Operation, error) {
	if len(accounts) == 0 {
		return nil, "", nil
	}

	op := accounts[0].Operation
	payloads := make([]record.Payload, len(accounts))
	for i, a := range accounts {
		if a.Operation != op {
			return nil, "", fmt.Errorf("account %d: operation %q differs from batch operation %q", i, a.Operation, op)
		}
		payloads[i] = a.Payload(i)
	}
	return payloads, op, nil
}
