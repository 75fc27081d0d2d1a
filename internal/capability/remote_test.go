package capability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteInvokeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req remoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "write the brief", req.Task)
		assert.Equal(t, []string{"docs/notes.md"}, req.Inputs)

		json.NewEncoder(w).Encode(remoteResponse{
			Success: true,
			Outputs: map[string]any{"docs/brief.md": "brief content"},
		})
	}))
	defer srv.Close()

	r := NewRemote("analyst", srv.URL, 0, nil)
	res, err := r.Invoke(context.Background(), "write the brief", []string{"docs/notes.md"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "brief content", res.Outputs["docs/brief.md"])
}

func TestRemoteInvokeStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind ErrorKind
	}{
		{"quota", http.StatusTooManyRequests, KindQuotaExceeded},
		{"unauthorized", http.StatusUnauthorized, KindAuthFailure},
		{"forbidden", http.StatusForbidden, KindAuthFailure},
		{"server error", http.StatusBadGateway, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			r := NewRemote("analyst", srv.URL, 0, nil)
			_, err := r.Invoke(context.Background(), "task", nil, nil)
			require.Error(t, err)

			var capErr *Error
			require.ErrorAs(t, err, &capErr)
			assert.Equal(t, tt.wantKind, capErr.Kind)
		})
	}
}

func TestRemoteInvokeCollaboratorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(remoteResponse{Success: false, Error: "inputs contradict the domain truth"})
	}))
	defer srv.Close()

	r := NewRemote("validator", srv.URL, 0, nil)
	_, err := r.Invoke(context.Background(), "task", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inputs contradict the domain truth")

	var capErr *Error
	assert.False(t, errors.As(err, &capErr))
}

func TestRemoteInvokeUnreachable(t *testing.T) {
	r := NewRemote("analyst", "http://127.0.0.1:1", 0, nil)
	_, err := r.Invoke(context.Background(), "task", nil, nil)
	require.Error(t, err)

	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, KindTransient, capErr.Kind)
}

func TestRemoteInvokeUnsuccessfulWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(remoteResponse{
			Success: false,
			Outputs: map[string]any{"reason": "criteria unmet"},
		})
	}))
	defer srv.Close()

	r := NewRemote("validator", srv.URL, 0, nil)
	res, err := r.Invoke(context.Background(), "task", nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "criteria unmet", res.Outputs["reason"])
}
