package types

import "time"

// EventSortKey is the fixed sort-key value under which Event records are
// stored. The composite key is (pk=<event id>, sk="Event"); the sk column
// doubles as the type marker for the time-range access path used by the
// scheduler.
const EventSortKey = "Event"

// Event is the central entity: a scheduled unit of work with a start/end
// window and a provisioning action. Created by the API layer in state
// registered; mutated afterwards only by the workflow engine (event_status,
// updated, outputs).
type Event struct {
	// Composite storage key.
	PK string `json:"pk"`
	SK string `json:"sk"`

	ID              string            `json:"id"`
	Name            string            `json:"name"`
	AdditionalNotes string            `json:"additional_notes,omitempty"`
	StartsTS        time.Time         `json:"event_starts_ts"`
	EndsTS          time.Time         `json:"event_ends_ts"`
	Orchestration   OrchestrationType `json:"orchestration_type"`

	// DocumentName references the automation document or catalog product
	// the lifecycle provisions, depending on Orchestration.
	DocumentName string `json:"document_name"`
	// VersionID pins a document version or provisioning artifact. Empty
	// means "resolve to latest" at deploy time.
	VersionID string `json:"version_id,omitempty"`

	Parameters []ProvisioningParameter `json:"provisioning_parameters,omitempty"`

	Status  EventStatus `json:"event_status"`
	Created time.Time   `json:"created"`
	Updated time.Time   `json:"updated"`

	// Outputs is the opaque serialized result returned by the backend.
	// Absent until provisioning completes (the scaled transition).
	Outputs string `json:"outputs,omitempty"`
}

// ProvisioningParameter is one tuple of the ordered parameter list attached
// to an Event at creation time. DefaultValue is what the backend receives;
// the remaining fields describe the parameter to the API layer.
type ProvisioningParameter struct {
	ParameterKey  string `json:"ParameterKey"`
	DefaultValue  string `json:"DefaultValue,omitempty"`
	ParameterType string `json:"ParameterType,omitempty"`
	Description   string `json:"Description,omitempty"`
	IsNoEcho      bool   `json:"IsNoEcho,omitempty"`
}

// ExecutionHandle is the opaque backend-returned token identifying an
// in-flight provisioning or deprovisioning action.
type ExecutionHandle string

// PollResult is the outcome of polling an ExecutionHandle.
type PollResult struct {
	Status ExecutionStatus
	// Outputs carries the backend's serialized result once Status is
	// SUCCEEDED; empty otherwise.
	Outputs string
	// Detail carries backend-supplied failure detail when Status is FAILED.
	Detail string
}

// DiscoveredResource is a backend-native document or product identifier
// surfaced by the discovery service. Ephemeral; never persisted.
type DiscoveredResource string
