// Package provision defines the provisioning-backend contract shared by the
// two orchestration variants and its AWS implementations: automation
// documents (Systems Manager) and catalog products (Service Catalog).
//
// Both variants expose the same start/poll/terminate surface so the workflow
// engine's state machine is written once and selects an implementation by
// orchestration type at workflow entry.
package provision

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"

	"eventplane/internal/types"
)

// StartRequest carries everything a backend needs to begin provisioning.
type StartRequest struct {
	// ExecutionName names the provisioned resource and doubles as the
	// backend-side idempotency token. The workflow engine passes the event
	// id.
	ExecutionName string
	// Target is the automation document name or the catalog product id.
	Target string
	// Version pins a document version or provisioning artifact id. Empty
	// means the backend resolves the latest.
	Version string

	// Exactly one parameter shape is populated, matching the variant.
	AutomationParameters map[string][]string
	CatalogParameters    []types.CatalogParameter
}

// TerminateRequest carries everything a backend needs to tear down what a
// prior Start provisioned.
type TerminateRequest struct {
	ExecutionName string
	Target        string
	// Handle identifies the original provisioning action.
	Handle types.ExecutionHandle
}

// Backend is the shared provisioning contract. Implementations must be safe
// for concurrent use across workflow executions.
type Backend interface {
	// Start begins provisioning and returns a poll-able handle.
	// Errors carry ErrCodeBackendInvalidTarget, ErrCodeBackendInvalidParameters,
	// or ErrCodeBackendQuotaExceeded.
	Start(ctx context.Context, req StartRequest) (types.ExecutionHandle, error)

	// Poll reports the status of an in-flight action; outputs are populated
	// once the action succeeds. Errors carry ErrCodeBackendNotFound or
	// ErrCodeBackendUnavailable.
	Poll(ctx context.Context, handle types.ExecutionHandle) (types.PollResult, error)

	// Terminate begins tearing the provisioned resource down and returns a
	// handle for polling the teardown. A resource that is already gone is
	// reported as ErrCodeBackendNotFound or ErrCodeBackendAlreadyTerminated;
	// anything else, transient faults included, carries
	// ErrCodeBackendUnavailable.
	Terminate(ctx context.Context, req TerminateRequest) (types.ExecutionHandle, error)
}

// throttleCodes are the AWS error codes mapped onto the quota-exceeded class.
var throttleCodes = map[string]struct{}{
	"ThrottlingException":                       {},
	"TooManyRequestsException":                  {},
	"LimitExceededException":                    {},
	"AutomationExecutionLimitExceededException": {},
}

// notFoundCodes are the AWS error codes mapped onto the not-found class.
var notFoundCodes = map[string]struct{}{
	"ResourceNotFoundException":             {},
	"AutomationDefinitionNotFoundException": {},
	"AutomationExecutionNotFoundException":  {},
	"InvalidDocument":                       {},
}

// classify maps an AWS SDK error onto the backend error taxonomy, preserving
// the original error in the chain. fallback is the code used when the AWS
// error matches no known class.
func classify(err error, fallback types.ErrorCode, message string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if _, ok := throttleCodes[code]; ok {
			return types.NewAppError(types.ErrCodeBackendQuotaExceeded, message, err)
		}
		if _, ok := notFoundCodes[code]; ok {
			return types.NewAppError(types.ErrCodeBackendNotFound, message, err)
		}
		switch code {
		case "InvalidParameters", "InvalidParametersException":
			return types.NewAppError(types.ErrCodeBackendInvalidParameters, message, err)
		case "InvalidResourceId", "InvalidTargetMaps":
			return types.NewAppError(types.ErrCodeBackendInvalidTarget, message, err)
		case "InvalidAutomationStatusUpdateException":
			// The execution is already in a terminal state and cannot be
			// stopped again.
			return types.NewAppError(types.ErrCodeBackendAlreadyTerminated, message, err)
		}
	}
	return types.NewAppError(fallback, message, err)
}
