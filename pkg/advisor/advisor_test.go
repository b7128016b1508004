package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"taskboard-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SuggestAssignees(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/suggest-assignees", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req suggestRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "t1", req.Task.ID)
		_, _ = w.Write([]byte(`{"suggestions":[{"user_id":"u1","score":0.9,"reason":"knows the code"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", 0)
	got, err := c.SuggestAssignees(context.Background(), &models.Task{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, []AssigneeSuggestion{{UserID: "u1", Score: 0.9, Reason: "knows the code"}}, got)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"members":[{"user_id":"u1","open_tasks":4}]}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, "", 0).Workload(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 4, got[0].OpenTasks)
}

func TestClient_ClientErrorsAreFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad org", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", 0).BurnoutRisk(context.Background(), "org-1")
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusBadRequest, serr.Code)
	assert.Equal(t, "bad org", serr.Body)
	assert.Equal(t, int32(1), calls.Load())
}

type failing struct{}

func (failing) SuggestAssignees(context.Context, *models.Task) ([]AssigneeSuggestion, error) {
	return nil, errors.New("down")
}
func (failing) Workload(context.Context, string) ([]Workload, error) { return nil, errors.New("down") }
func (failing) BurnoutRisk(context.Context, string) ([]BurnoutRisk, error) {
	return nil, errors.New("down")
}
func (failing) Report(context.Context, string, []models.Task) (*Report, error) {
	return nil, errors.New("down")
}

func TestSafe_SwallowsFailures(t *testing.T) {
	s := NewSafe(failing{}, nil)
	ctx := context.Background()

	suggestions, err := s.SuggestAssignees(ctx, &models.Task{})
	assert.NoError(t, err)
	assert.Empty(t, suggestions)

	_, err = s.Workload(ctx, "org")
	assert.NoError(t, err)
	_, err = s.BurnoutRisk(ctx, "org")
	assert.NoError(t, err)

	report, err := s.Report(ctx, "org", nil)
	assert.NoError(t, err)
	assert.NotNil(t, report)
}

func TestSafe_NilIsNop(t *testing.T) {
	report, err := NewSafe(nil, nil).Report(context.Background(), "org", nil)
	require.NoError(t, err)
	assert.Equal(t, &Report{}, report)
}
