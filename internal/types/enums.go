package types

// EventStatus represents the lifecycle state of an Event.
//
// The state machine is strictly ordered: registered -> deploy -> scaled ->
// destroy -> ended, with failed as the early-exit terminal state reachable
// from any non-terminal state. Transitions never move backward.
type EventStatus string

const (
	StatusRegistered EventStatus = "registered"
	StatusDeploy     EventStatus = "deploy"
	StatusScaled     EventStatus = "scaled"
	StatusDestroy    EventStatus = "destroy"
	StatusEnded      EventStatus = "ended"
	StatusFailed     EventStatus = "failed"
)

// Terminal reports whether the status is a terminal lifecycle state.
// Events in a terminal state are inert: they are never dispatched again and
// may be deleted by the API layer.
func (s EventStatus) Terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// Deletable reports whether an Event in this status may be deleted.
// Deletion is permitted only before dispatch (registered) or after the
// lifecycle has finished (ended, failed), never mid-lifecycle.
func (s EventStatus) Deletable() bool {
	return s == StatusRegistered || s.Terminal()
}

// OrchestrationType selects the provisioning backend variant for an Event.
type OrchestrationType string

const (
	// OrchestrationAutomation runs a named, versioned automation document
	// with key/value parameters.
	OrchestrationAutomation OrchestrationType = "SSM"
	// OrchestrationCatalog provisions and terminates a versioned catalog
	// product through a resolved launch path.
	OrchestrationCatalog OrchestrationType = "SC"
)

// Valid reports whether the orchestration type is one of the two supported
// backend variants.
func (t OrchestrationType) Valid() bool {
	return t == OrchestrationAutomation || t == OrchestrationCatalog
}

// ExecutionStatus is the poll-able state of an in-flight backend operation.
type ExecutionStatus string

const (
	ExecutionInProgress ExecutionStatus = "IN_PROGRESS"
	ExecutionSucceeded  ExecutionStatus = "SUCCEEDED"
	ExecutionFailed     ExecutionStatus = "FAILED"
)

// Terminal reports whether the backend operation has finished.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed
}
