package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &shared.ValidationError{Field: "lines", Reason: "empty"}, http.StatusBadRequest},
		{"not found", &shared.NotFoundError{Entity: "document", ID: 4}, http.StatusNotFound},
		{"state conflict", &shared.StateConflictError{Entity: "document", ID: 4, Current: "PAID", Attempted: "settle"}, http.StatusConflict},
		{"concurrency", &shared.ConcurrencyConflictError{Entity: "document", ID: 4}, http.StatusConflict},
		{"insufficient stock", &shared.InsufficientStockError{ItemID: 7, Requested: 10, Available: 3}, http.StatusUnprocessableEntity},
		{"expired", &shared.ExpiredError{DocumentID: 4, ValidUntil: time.Now()}, http.StatusConflict},
		{"wrapped", fmt.Errorf("settle: %w", &shared.InsufficientStockError{ItemID: 7, Requested: 1, Available: 0}), http.StatusUnprocessableEntity},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)

			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var problem ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			require.Equal(t, tc.status, problem.Status)
			require.NotEmpty(t, problem.Title)
		})
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: connection refused"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Empty(t, problem.Detail)
}
