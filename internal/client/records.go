package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ryabkov82/sf-sync-server/internal/record"
)

// RecordResult is the response to a single-record call
type RecordResult struct {
	StatusCode int
	Body       []byte
	ID         string
	Created    bool
}

// saveResult is the body Salesforce returns for create and upsert
type saveResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Created bool   `json:"created"`
}

var apiNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Perform issues exactly one write request for p (plus a SOQL query when p is
// addressed by lookup traits). Errors are returned verbatim, never retried.
func (c *Client) Perform(ctx context.Context, p record.Payload) (RecordResult, error) {
	ctx, span := otel.Tracer("sf-sync-server/client").Start(ctx, "Records.Perform")
	defer span.End()
	span.SetAttributes(
		attribute.String("object", p.ObjectType),
		attribute.String("operation", string(p.Operation)),
		attribute.Int("index", p.Index),
	)

	res, err := c.perform(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("status_code", res.StatusCode))
	return res, err
}

func (c *Client) perform(ctx context.Context, p record.Payload) (RecordResult, error) {
	if !apiNamePattern.MatchString(p.ObjectType) {
		return RecordResult{}, fmt.Errorf("invalid object name %q", p.ObjectType)
	}

	switch p.Operation {
	case record.OpCreate:
		return c.CreateRecord(ctx, p.ObjectType, p.Fields)

	case record.OpUpdate:
		id, err := c.resolveID(ctx, p)
		if err != nil {
			return RecordResult{}, err
		}
		return c.UpdateRecord(ctx, p.ObjectType, id, p.Fields)

	case record.OpUpsert:
		if p.ExternalIDField != "" {
			return c.UpsertRecord(ctx, p.ObjectType, p.ExternalIDField, p.ExternalID(), p.Fields)
		}
		ids, err := c.LookupIDs(ctx, p.ObjectType, p.Lookup, p.MatcherOperator)
		if err != nil {
			return RecordResult{}, err
		}
		switch len(ids) {
		case 0:
			return c.CreateRecord(ctx, p.ObjectType, p.Fields)
		case 1:
			return c.UpdateRecord(ctx, p.ObjectType, ids[0], p.Fields)
		default:
			return RecordResult{}, &LookupError{Code: LookupMultipleMatches, ObjectType: p.ObjectType, Matches: len(ids)}
		}

	case record.OpDelete:
		id, err := c.resolveID(ctx, p)
		if err != nil {
			return RecordResult{}, err
		}
		return c.DeleteRecord(ctx, p.ObjectType, id)
	}

	return RecordResult{}, fmt.Errorf("unsupported operation %q", p.Operation)
}

// resolveID returns the record id, resolving lookup traits when no id is set
func (c *Client) resolveID(ctx context.Context, p record.Payload) (string, error) {
	if p.RecordID != "" {
		return p.RecordID, nil
	}
	ids, err := c.LookupIDs(ctx, p.ObjectType, p.Lookup, p.MatcherOperator)
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", &LookupError{Code: LookupNotFound, ObjectType: p.ObjectType}
	case 1:
		return ids[0], nil
	default:
		return "", &LookupError{Code: LookupMultipleMatches, ObjectType: p.ObjectType, Matches: len(ids)}
	}
}

// CreateRecord creates a record (POST /sobjects/{object}/)
func (c *Client) CreateRecord(ctx context.Context, object string, fields record.Fields) (RecordResult, error) {
	var out saveResult
	status, body, err := c.doJSON(ctx, http.MethodPost, c.dataPath("/sobjects/"+object+"/"), fields.Map(), &out)
	if err != nil {
		return RecordResult{StatusCode: status}, err
	}
	return RecordResult{StatusCode: status, Body: body, ID: out.ID, Created: true}, nil
}

// UpdateRecord updates a record by id (PATCH /sobjects/{object}/{id})
func (c *Client) UpdateRecord(ctx context.Context, object, id string, fields record.Fields) (RecordResult, error) {
	path := c.dataPath("/sobjects/" + object + "/" + url.PathEscape(id))
	status, body, err := c.doJSON(ctx, http.MethodPatch, path, fields.Without("Id").Map(), nil)
	if err != nil {
		return RecordResult{StatusCode: status}, err
	}
	return RecordResult{StatusCode: status, Body: body, ID: id}, nil
}

// UpsertRecord upserts by external id (PATCH /sobjects/{object}/{field}/{value}).
// 201 means a record was created.
func (c *Client) UpsertRecord(ctx context.Context, object, field, value string, fields record.Fields) (RecordResult, error) {
	if !apiNamePattern.MatchString(field) {
		return RecordResult{}, fmt.Errorf("invalid external id field %q", field)
	}
	path := c.dataPath("/sobjects/" + object + "/" + field + "/" + url.PathEscape(value))

	var out saveResult
	status, body, err := c.doJSON(ctx, http.MethodPatch, path, fields.Without(field).Map(), &out)
	if err != nil {
		return RecordResult{StatusCode: status}, err
	}
	return RecordResult{
		StatusCode: status,
		Body:       body,
		ID:         out.ID,
		Created:    status == http.StatusCreated || out.Created,
	}, nil
}

// DeleteRecord deletes a record by id
func (c *Client) DeleteRecord(ctx context.Context, object, id string) (RecordResult, error) {
	path := c.dataPath("/sobjects/" + object + "/" + url.PathEscape(id))
	status, body, err := c.do(ctx, request{method: http.MethodDelete, url: path})
	if err != nil {
		return RecordResult{StatusCode: status}, err
	}
	return RecordResult{StatusCode: status, Body: body, ID: id}, nil
}

type queryResult struct {
	TotalSize int  `json:"totalSize"`
	Done      bool `json:"done"`
	Records   []struct {
		ID string `json:"Id"`
	} `json:"records"`
}

// LookupIDs returns the ids of records matching the lookup traits
func (c *Client) LookupIDs(ctx context.Context, object string, lookup record.Fields, op record.MatcherOperator) ([]string, error) {
	soql, err := BuildLookupSOQL(object, lookup, op)
	if err != nil {
		return nil, err
	}

	var out queryResult
	path := c.dataPath("/query?q=" + url.QueryEscape(soql))
	if _, _, err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(out.Records))
	for _, r := range out.Records {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// BuildLookupSOQL builds SELECT Id FROM object WHERE a = 'x' OR|AND b = 'y'.
// Blank traits are skipped.
func BuildLookupSOQL(object string, lookup record.Fields, op record.MatcherOperator) (string, error) {
	if !apiNamePattern.MatchString(object) {
		return "", fmt.Errorf("invalid object name %q", object)
	}
	if op == "" {
		op = record.MatchOR
	}

	var clauses []string
	for _, f := range lookup {
		if f.Value.IsBlank() {
			continue
		}
		if !apiNamePattern.MatchString(f.Name) {
			return "", fmt.Errorf("invalid lookup field %q", f.Name)
		}
		clauses = append(clauses, f.Name+" = "+soqlLiteral(f.Value))
	}
	if len(clauses) == 0 {
		return "", fmt.Errorf("no lookup fields given for %s", object)
	}

	return "SELECT Id FROM " + object + " WHERE " + strings.Join(clauses, " "+string(op)+" "), nil
}

var soqlEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func soqlLiteral(v record.Value) string {
	switch v.Type() {
	case record.TypeNumber, record.TypeBool:
		return v.Text()
	case record.TypeNull:
		return "null"
	default:
		return "'" + soqlEscaper.Replace(v.Text()) + "'"
	}
}
