package types

// EventMessage is the work-queue payload: a full snapshot of the Event at
// enqueue time, with provisioning parameters already reshaped into the form
// the selected backend expects. JSON tags use snake_case to match the stored
// Event record.
//
// Exactly one of AutomationParameters / CatalogParameters is populated,
// selected by OrchestrationType at enqueue time:
//   - Automation: each parameter's default value wrapped as a single-element
//     list keyed by parameter name.
//   - Catalog: an ordered list of {Key, Value} pairs.
type EventMessage struct {
	PK string `json:"pk"`
	SK string `json:"sk"`

	ID              string            `json:"id"`
	Name            string            `json:"name"`
	AdditionalNotes string            `json:"additional_notes,omitempty"`
	StartsTS        string            `json:"event_starts_ts"`
	EndsTS          string            `json:"event_ends_ts"`
	Orchestration   OrchestrationType `json:"orchestration_type"`
	DocumentName    string            `json:"document_name"`
	VersionID       string            `json:"version_id,omitempty"`
	Status          EventStatus       `json:"event_status"`
	Created         string            `json:"created,omitempty"`
	Updated         string            `json:"updated,omitempty"`

	AutomationParameters map[string][]string `json:"automation_parameters,omitempty"`
	CatalogParameters    []CatalogParameter  `json:"catalog_parameters,omitempty"`
}

// CatalogParameter is one ordered key/value provisioning parameter in the
// shape the catalog backend consumes.
type CatalogParameter struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// StatusMessage is the status-bus payload emitted on every lifecycle
// transition. Consumers must treat Status as authoritative rather than
// arrival order: slow consumers can observe messages out of order.
type StatusMessage struct {
	Status EventStatus `json:"status"`
	PK     string      `json:"pk"`
	SK     string      `json:"sk"`
	// Outputs is attached only on the scaled transition.
	Outputs string `json:"outputs,omitempty"`
	// Error carries failure detail on the failed transition.
	Error string `json:"error,omitempty"`
}
