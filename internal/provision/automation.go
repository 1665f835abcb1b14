package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmTypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"eventplane/internal/types"
)

// AutomationAPI is the subset of the SSM SDK client used by the automation
// backend.
type AutomationAPI interface {
	StartAutomationExecution(ctx context.Context, params *ssm.StartAutomationExecutionInput, optFns ...func(*ssm.Options)) (*ssm.StartAutomationExecutionOutput, error)
	GetAutomationExecution(ctx context.Context, params *ssm.GetAutomationExecutionInput, optFns ...func(*ssm.Options)) (*ssm.GetAutomationExecutionOutput, error)
	StopAutomationExecution(ctx context.Context, params *ssm.StopAutomationExecutionInput, optFns ...func(*ssm.Options)) (*ssm.StopAutomationExecutionOutput, error)
}

// AutomationBackend provisions by executing a named, versioned automation
// document. Parameters arrive pre-shaped as single-element string lists keyed
// by parameter name.
type AutomationBackend struct {
	client AutomationAPI
	logger *slog.Logger
}

var _ Backend = (*AutomationBackend)(nil)

// NewAutomationBackend creates an AutomationBackend over the given SSM client.
func NewAutomationBackend(client AutomationAPI, logger *slog.Logger) *AutomationBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutomationBackend{client: client, logger: logger}
}

// Start begins an automation execution of the target document. An empty
// version runs the document's default version.
func (b *AutomationBackend) Start(ctx context.Context, req StartRequest) (types.ExecutionHandle, error) {
	input := &ssm.StartAutomationExecutionInput{
		DocumentName: aws.String(req.Target),
		Parameters:   req.AutomationParameters,
	}
	if req.Version != "" {
		input.DocumentVersion = aws.String(req.Version)
	}

	out, err := b.client.StartAutomationExecution(ctx, input)
	if err != nil {
		return "", classify(err, types.ErrCodeBackendUnavailable,
			fmt.Sprintf("failed to start automation execution for document %s", req.Target))
	}

	handle := types.ExecutionHandle(aws.ToString(out.AutomationExecutionId))
	b.logger.InfoContext(ctx, "automation execution started",
		"document", req.Target,
		"version", req.Version,
		"execution_id", string(handle),
	)
	return handle, nil
}

// Poll reports the automation execution's status. Success outputs are the
// execution's output map serialized as JSON.
//
// A cancelled execution is reported as SUCCEEDED: the only caller of
// StopAutomationExecution is the platform itself during teardown, so
// cancellation completing means the teardown finished.
func (b *AutomationBackend) Poll(ctx context.Context, handle types.ExecutionHandle) (types.PollResult, error) {
	out, err := b.client.GetAutomationExecution(ctx, &ssm.GetAutomationExecutionInput{
		AutomationExecutionId: aws.String(string(handle)),
	})
	if err != nil {
		return types.PollResult{}, classify(err, types.ErrCodeBackendUnavailable,
			fmt.Sprintf("failed to poll automation execution %s", handle))
	}

	exec := out.AutomationExecution
	if exec == nil {
		return types.PollResult{}, types.NewAppError(types.ErrCodeBackendNotFound,
			fmt.Sprintf("automation execution %s has no detail", handle), nil)
	}

	switch exec.AutomationExecutionStatus {
	case ssmTypes.AutomationExecutionStatusSuccess:
		return types.PollResult{
			Status:  types.ExecutionSucceeded,
			Outputs: marshalOutputs(exec.Outputs),
		}, nil
	case ssmTypes.AutomationExecutionStatusCancelled:
		return types.PollResult{
			Status: types.ExecutionSucceeded,
			Detail: "execution cancelled",
		}, nil
	case ssmTypes.AutomationExecutionStatusFailed, ssmTypes.AutomationExecutionStatusTimedout:
		return types.PollResult{
			Status: types.ExecutionFailed,
			Detail: aws.ToString(exec.FailureMessage),
		}, nil
	default:
		// Pending, InProgress, Waiting, Cancelling.
		return types.PollResult{Status: types.ExecutionInProgress}, nil
	}
}

// Terminate cancels the in-flight or completed automation execution. The
// returned handle is the original one: teardown completion is observed by
// polling it until the cancel lands.
func (b *AutomationBackend) Terminate(ctx context.Context, req TerminateRequest) (types.ExecutionHandle, error) {
	_, err := b.client.StopAutomationExecution(ctx, &ssm.StopAutomationExecutionInput{
		AutomationExecutionId: aws.String(string(req.Handle)),
		Type:                  ssmTypes.StopTypeCancel,
	})
	if err != nil {
		return "", classify(err, types.ErrCodeBackendUnavailable,
			fmt.Sprintf("failed to stop automation execution %s", req.Handle))
	}

	b.logger.InfoContext(ctx, "automation execution stop requested",
		"document", req.Target,
		"execution_id", string(req.Handle),
	)
	return req.Handle, nil
}

// marshalOutputs serializes the execution output map. An empty map yields an
// empty string so callers can treat outputs as absent.
func marshalOutputs(outputs map[string][]string) string {
	if len(outputs) == 0 {
		return ""
	}
	encoded, err := json.Marshal(outputs)
	if err != nil {
		return ""
	}
	return string(encoded)
}
