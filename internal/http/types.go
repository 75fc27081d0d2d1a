package http

import (
	"github.com/fyrsmithlabs/conductd/internal/orchestrator"
	"github.com/fyrsmithlabs/conductd/internal/safety"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Profile      string                          `json:"profile"`
	MachineState string                          `json:"machine_state"`
	CurrentPhase string                          `json:"current_phase"`
	PendingSteps []string                        `json:"pending_steps,omitempty"`
	HaltReason   string                          `json:"halt_reason,omitempty"`
	SafeMode     safety.SafeModeStatus           `json:"safe_mode"`
	Stop         safety.StopStatus               `json:"stop"`
	Checkpoint   *orchestrator.PendingCheckpoint `json:"checkpoint,omitempty"`
}

// PolicyResponse is the response body for GET /api/v1/policy.
type PolicyResponse struct {
	Profile   string         `json:"profile"`
	Settings  map[string]any `json:"settings"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

// SetProfileRequest is the request body for PUT /api/v1/policy/profile.
type SetProfileRequest struct {
	Profile string `json:"profile"`
}

// SetOverrideRequest is the request body for PUT /api/v1/policy/overrides/:key.
type SetOverrideRequest struct {
	Value any `json:"value"`
}

// StopRequest is the request body for POST /api/v1/safety/stop.
type StopRequest struct {
	Reason string `json:"reason"`
}

// ResumeRequest is the request body for POST /api/v1/safety/resume.
type ResumeRequest struct {
	ApprovedBy string `json:"approved_by"`
}

// SafeModeRequest is the request body for POST /api/v1/safety/safe-mode.
// Restrictions names the restriction set to apply; empty means the
// default set.
type SafeModeRequest struct {
	Restrictions []string `json:"restrictions,omitempty"`
}

// ExecuteResponse is the response body for POST /api/v1/phases/:id/execute.
type ExecuteResponse struct {
	Phase   string `json:"phase"`
	Started bool   `json:"started"`
}

// ResolveCheckpointRequest is the request body for POST /api/v1/checkpoint/resolve.
type ResolveCheckpointRequest struct {
	Phase      string `json:"phase"`
	Approved   bool   `json:"approved"`
	ApprovedBy string `json:"approved_by"`
	Notes      string `json:"notes,omitempty"`
}

// ClearHaltRequest is the request body for POST /api/v1/halt/clear.
type ClearHaltRequest struct {
	ClearedBy string `json:"cleared_by"`
}
