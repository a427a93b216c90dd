// Package transport is the boundary to the academic backend. The cache
// layer only sees Do: a method, a resource, an optional record id, filters
// and a body, answered with {data, error}.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/campus-hub/querysync/internal/domain/shared"
)

// Method is the kind of call.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Request is one backend call.
type Request struct {
	Method   Method
	Resource string
	// ID addresses a single record. Empty for list reads and creates.
	ID string
	// Query filters list reads by field equality.
	Query map[string]string
	// Body is the payload of writes. It must encode to a JSON object.
	Body any
}

// Response is the {data, error} answer of the backend. Exactly one of the
// two is set for writes; list reads may return empty data.
type Response struct {
	Data  any
	Error error
}

// Transport performs backend calls.
type Transport interface {
	Do(ctx context.Context, req Request) Response
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req Request) Response

func (f Func) Do(ctx context.Context, req Request) Response { return f(ctx, req) }

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (r Response) Unwrap() (any, error) { return r.Data, r.Error }

// Get lists records of resource matching query.
func Get(ctx context.Context, t Transport, resource string, query map[string]string) (any, error) {
	return t.Do(ctx, Request{Method: MethodGet, Resource: resource, Query: query}).Unwrap()
}

// GetByID reads a single record.
func GetByID(ctx context.Context, t Transport, resource, id string) (any, error) {
	return t.Do(ctx, Request{Method: MethodGet, Resource: resource, ID: id}).Unwrap()
}

// Post creates a record.
func Post(ctx context.Context, t Transport, resource string, body any) (any, error) {
	return t.Do(ctx, Request{Method: MethodPost, Resource: resource, Body: body}).Unwrap()
}

// Patch updates the non-null fields of body on record id.
func Patch(ctx context.Context, t Transport, resource, id string, body any) (any, error) {
	return t.Do(ctx, Request{Method: MethodPatch, Resource: resource, ID: id, Body: body}).Unwrap()
}

// Delete removes record id.
func Delete(ctx context.Context, t Transport, resource, id string) (any, error) {
	return t.Do(ctx, Request{Method: MethodDelete, Resource: resource, ID: id}).Unwrap()
}

// Decode converts response data into T through its JSON form.
func Decode[T any](data any) (T, error) {
	var out T
	if v, ok := data.(T); ok {
		return v, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return out, fmt.Errorf("transport: encode response: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("transport: decode response into %T: %w", out, err)
	}
	return out, nil
}

// ToFields converts a request body into a field map.
func ToFields(body any) (map[string]any, error) {
	if body == nil {
		return map[string]any{}, nil
	}
	if m, ok := body.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, shared.WrapError("transport", "ToFields", shared.ErrInvalidInput, "body is not encodable", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, shared.WrapError("transport", "ToFields", shared.ErrInvalidInput, "body is not an object", err)
	}
	return out, nil
}

// FieldString renders a field value the way filters compare it.
func FieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
