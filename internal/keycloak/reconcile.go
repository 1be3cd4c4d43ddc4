package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Outcome reports how Reconcile obtained a resource.
type Outcome int

const (
	// OutcomeCreated means the create request succeeded.
	OutcomeCreated Outcome = iota + 1
	// OutcomeConflictResolved means the resource already existed and was
	// found by lookup. This is not an error.
	OutcomeConflictResolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeConflictResolved:
		return "conflict_resolved"
	default:
		return "unknown"
	}
}

// Reconciler describes one create-or-fetch operation.
type Reconciler[T any] struct {
	// Kind names the resource in errors ("client", "organization").
	Kind string

	// Create issues the creation request.
	Create func(ctx context.Context) (*Response, error)

	// Created builds the result from a successful create response.
	Created func(resp *Response) (T, error)

	// Lookup finds existing resources with the same logical key. The
	// first element wins.
	Lookup func(ctx context.Context) ([]T, error)

	// ConflictStatus defaults to 409.
	ConflictStatus int
}

// Reconcile creates a resource, or returns the existing one when the create
// reports a naming conflict. A conflict with no lookup match yields
// ErrInconsistentState. Any other non-2xx status is an *APIError.
func Reconcile[T any](ctx context.Context, r Reconciler[T]) (T, Outcome, error) {
	var zero T

	conflict := r.ConflictStatus
	if conflict == 0 {
		conflict = http.StatusConflict
	}

	resp, err := r.Create(ctx)
	if err != nil {
		return zero, 0, fmt.Errorf("create %s: %w", r.Kind, err)
	}

	switch {
	case resp.ok():
		v, err := r.Created(resp)
		if err != nil {
			return zero, 0, fmt.Errorf("create %s: %w", r.Kind, err)
		}
		return v, OutcomeCreated, nil

	case resp.Status == conflict:
		found, err := r.Lookup(ctx)
		if err != nil {
			return zero, 0, fmt.Errorf("lookup existing %s: %w", r.Kind, err)
		}
		if len(found) == 0 {
			return zero, 0, fmt.Errorf("%s: %w", r.Kind, ErrInconsistentState)
		}
		return found[0], OutcomeConflictResolved, nil

	default:
		return zero, 0, fmt.Errorf("create %s: %w", r.Kind, resp.apiError())
	}
}

// createdID extracts the new resource id from a create response: the body's
// "id" field when present, otherwise the last segment of the Location header.
func createdID(resp *Response) (string, error) {
	if len(resp.Body) > 0 {
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(resp.Body, &body); err == nil && body.ID != "" {
			return body.ID, nil
		}
	}

	loc := strings.TrimSpace(resp.Header.Get("Location"))
	if loc != "" {
		if u, err := url.Parse(loc); err == nil {
			if id := path.Base(strings.TrimRight(u.Path, "/")); id != "" && id != "." && id != "/" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("no id in response body or Location header (status %d)", resp.Status)
}
