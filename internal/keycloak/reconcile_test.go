package keycloak

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubReconciler(status int, header http.Header, body string, lookup []string, lookupErr error) (Reconciler[string], *int) {
	lookups := 0
	if header == nil {
		header = http.Header{}
	}
	return Reconciler[string]{
		Kind: "widget",
		Create: func(context.Context) (*Response, error) {
			return &Response{Method: http.MethodPost, Path: "/widgets", Status: status, Header: header, Body: []byte(body)}, nil
		},
		Created: createdID,
		Lookup: func(context.Context) ([]string, error) {
			lookups++
			return lookup, lookupErr
		},
	}, &lookups
}

func TestReconcile(t *testing.T) {
	loc := http.Header{"Location": {"http://kc/admin/realms/r/widgets/abc-123"}}

	tests := []struct {
		name        string
		status      int
		header      http.Header
		body        string
		lookup      []string
		lookupErr   error
		wantID      string
		wantOutcome Outcome
		wantErr     error
		wantStatus  int
		wantLookups int
	}{
		{name: "created via location", status: http.StatusCreated, header: loc, wantID: "abc-123", wantOutcome: OutcomeCreated},
		{name: "created via body", status: http.StatusCreated, body: `{"id":"from-body"}`, wantID: "from-body", wantOutcome: OutcomeCreated},
		{name: "body id wins over location", status: http.StatusCreated, header: loc, body: `{"id":"from-body"}`, wantID: "from-body", wantOutcome: OutcomeCreated},
		{name: "conflict resolved", status: http.StatusConflict, lookup: []string{"first", "second"}, wantID: "first", wantOutcome: OutcomeConflictResolved, wantLookups: 1},
		{name: "conflict without match", status: http.StatusConflict, wantErr: ErrInconsistentState, wantLookups: 1},
		{name: "conflict lookup fails", status: http.StatusConflict, lookupErr: errors.New("search broke"), wantLookups: 1},
		{name: "server error", status: http.StatusInternalServerError, wantStatus: http.StatusInternalServerError},
		{name: "forbidden", status: http.StatusForbidden, wantStatus: http.StatusForbidden},
		{name: "created without id", status: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, lookups := stubReconciler(tt.status, tt.header, tt.body, tt.lookup, tt.lookupErr)
			id, outcome, err := Reconcile(context.Background(), r)

			assert.Equal(t, tt.wantLookups, *lookups)
			if tt.wantID == "" {
				require.Error(t, err)
				assert.Empty(t, id)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				assert.Equal(t, tt.wantStatus, StatusCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantOutcome, outcome)
		})
	}
}

func TestReconcile_CustomConflictStatus(t *testing.T) {
	r, _ := stubReconciler(http.StatusBadRequest, nil, "", []string{"existing"}, nil)
	r.ConflictStatus = http.StatusBadRequest

	id, outcome, err := Reconcile(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "existing", id)
	assert.Equal(t, OutcomeConflictResolved, outcome)
}

func TestReconcile_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	_, _, err := Reconcile(context.Background(), Reconciler[string]{
		Kind:   "widget",
		Create: func(context.Context) (*Response, error) { return nil, boom },
	})
	require.ErrorIs(t, err, boom)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "created", OutcomeCreated.String())
	assert.Equal(t, "conflict_resolved", OutcomeConflictResolved.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
