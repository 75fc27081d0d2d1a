package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// remoteRequest is the payload POSTed to a collaborator endpoint.
type remoteRequest struct {
	Task    string         `json:"task"`
	Inputs  []string       `json:"inputs,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// remoteResponse is the expected collaborator response body.
type remoteResponse struct {
	Success bool           `json:"success"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Remote invokes a collaborator agent over HTTP. The agent's reasoning is
// opaque to the control plane; only the invoke contract matters.
type Remote struct {
	name     string
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewRemote creates a capability that forwards invocations to endpoint.
func NewRemote(name, endpoint string, timeout time.Duration, logger *zap.Logger) *Remote {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("capability").With(zap.String("capability", name)),
	}
}

// Name returns the capability identifier.
func (r *Remote) Name() string { return r.name }

// Invoke POSTs the task to the collaborator endpoint. HTTP status codes
// map onto error kinds so blocking conditions can match on them: 429 is
// quota exhaustion, 401/403 are auth failures, and 5xx is transient.
func (r *Remote) Invoke(ctx context.Context, task string, inputs []string, options map[string]any) (*Result, error) {
	body, err := json.Marshal(remoteRequest{Task: task, Inputs: inputs, Options: options})
	if err != nil {
		return nil, fmt.Errorf("failed to encode invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, NewError(KindTransient, "collaborator %s unreachable: %v", r.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return nil, NewError(KindQuotaExceeded, "collaborator %s: quota exceeded: %s", r.name, msg)
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, NewError(KindAuthFailure, "collaborator %s: auth failure: %s", r.name, msg)
		default:
			if resp.StatusCode >= 500 {
				return nil, NewError(KindTransient, "collaborator %s: status %d: %s", r.name, resp.StatusCode, msg)
			}
			return nil, fmt.Errorf("collaborator %s: status %d: %s", r.name, resp.StatusCode, msg)
		}
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("collaborator %s: invalid response: %w", r.name, err)
	}

	r.logger.Debug("collaborator invoked",
		zap.String("task", task),
		zap.Bool("success", out.Success),
		zap.Duration("duration", time.Since(start)))

	if !out.Success && out.Error != "" {
		return nil, fmt.Errorf("collaborator %s: %s", r.name, out.Error)
	}
	return &Result{Success: out.Success, Outputs: out.Outputs}, nil
}
