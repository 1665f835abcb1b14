package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicecatalog"
	scTypes "github.com/aws/aws-sdk-go-v2/service/servicecatalog/types"
	"github.com/google/uuid"

	"eventplane/internal/types"
)

// CatalogAPI is the subset of the Service Catalog SDK client used by the
// catalog backend.
type CatalogAPI interface {
	DescribeProduct(ctx context.Context, params *servicecatalog.DescribeProductInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.DescribeProductOutput, error)
	ListLaunchPaths(ctx context.Context, params *servicecatalog.ListLaunchPathsInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.ListLaunchPathsOutput, error)
	ProvisionProduct(ctx context.Context, params *servicecatalog.ProvisionProductInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.ProvisionProductOutput, error)
	DescribeRecord(ctx context.Context, params *servicecatalog.DescribeRecordInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.DescribeRecordOutput, error)
	TerminateProvisionedProduct(ctx context.Context, params *servicecatalog.TerminateProvisionedProductInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.TerminateProvisionedProductOutput, error)
}

// CatalogBackend provisions by launching a catalog product through a resolved
// launch path. Version resolution picks the most recently created
// provisioning artifact when the request does not pin one; path resolution
// picks the first available launch path and errors when none exists.
type CatalogBackend struct {
	client CatalogAPI
	logger *slog.Logger
}

var _ Backend = (*CatalogBackend)(nil)

// NewCatalogBackend creates a CatalogBackend over the given Service Catalog
// client.
func NewCatalogBackend(client CatalogAPI, logger *slog.Logger) *CatalogBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogBackend{client: client, logger: logger}
}

// Start resolves the provisioning artifact and launch path, then launches the
// product. The provisioned product is named after the execution so teardown
// can find it without carrying extra state.
func (b *CatalogBackend) Start(ctx context.Context, req StartRequest) (types.ExecutionHandle, error) {
	artifactID := req.Version
	if artifactID == "" {
		resolved, err := b.latestArtifact(ctx, req.Target)
		if err != nil {
			return "", err
		}
		artifactID = resolved
	}

	pathID, err := b.launchPath(ctx, req.Target)
	if err != nil {
		return "", err
	}

	params := make([]scTypes.ProvisioningParameter, 0, len(req.CatalogParameters))
	for _, p := range req.CatalogParameters {
		params = append(params, scTypes.ProvisioningParameter{
			Key:   aws.String(p.Key),
			Value: aws.String(p.Value),
		})
	}

	out, err := b.client.ProvisionProduct(ctx, &servicecatalog.ProvisionProductInput{
		ProductId:              aws.String(req.Target),
		ProvisioningArtifactId: aws.String(artifactID),
		PathId:                 aws.String(pathID),
		ProvisionedProductName: aws.String(req.ExecutionName),
		ProvisionToken:         aws.String(req.ExecutionName),
		ProvisioningParameters: params,
	})
	if err != nil {
		return "", classify(err, types.ErrCodeBackendUnavailable,
			fmt.Sprintf("failed to provision product %s", req.Target))
	}

	if out.RecordDetail == nil || out.RecordDetail.RecordId == nil {
		return "", types.NewAppError(types.ErrCodeBackendUnavailable,
			fmt.Sprintf("provisioning of product %s returned no record", req.Target), nil)
	}

	handle := types.ExecutionHandle(*out.RecordDetail.RecordId)
	b.logger.InfoContext(ctx, "product provisioning started",
		"product_id", req.Target,
		"artifact_id", artifactID,
		"path_id", pathID,
		"record_id", string(handle),
	)
	return handle, nil
}

// Poll reports the provisioning (or termination) record's status. Success
// outputs are the record outputs serialized as JSON.
func (b *CatalogBackend) Poll(ctx context.Context, handle types.ExecutionHandle) (types.PollResult, error) {
	out, err := b.client.DescribeRecord(ctx, &servicecatalog.DescribeRecordInput{
		Id: aws.String(string(handle)),
	})
	if err != nil {
		return types.PollResult{}, classify(err, types.ErrCodeBackendUnavailable,
			fmt.Sprintf("failed to describe record %s", handle))
	}

	detail := out.RecordDetail
	if detail == nil {
		return types.PollResult{}, types.NewAppError(types.ErrCodeBackendNotFound,
			fmt.Sprintf("record %s has no detail", handle), nil)
	}

	switch detail.Status {
	case scTypes.RecordStatusSucceeded:
		return types.PollResult{
			Status:  types.ExecutionSucceeded,
			Outputs: marshalRecordOutputs(out.RecordOutputs),
		}, nil
	case scTypes.RecordStatusFailed:
		return types.PollResult{
			Status: types.ExecutionFailed,
			Detail: recordErrors(detail.RecordErrors),
		}, nil
	default:
		// Created, InProgress, InProgressInError.
		return types.PollResult{Status: types.ExecutionInProgress}, nil
	}
}

// Terminate tears down the provisioned product by name and returns the
// termination record's handle for polling.
func (b *CatalogBackend) Terminate(ctx context.Context, req TerminateRequest) (types.ExecutionHandle, error) {
	out, err := b.client.TerminateProvisionedProduct(ctx, &servicecatalog.TerminateProvisionedProductInput{
		ProvisionedProductName: aws.String(req.ExecutionName),
		TerminateToken:         aws.String(uuid.New().String()),
	})
	if err != nil {
		return "", classify(err, types.ErrCodeBackendUnavailable,
			fmt.Sprintf("failed to terminate provisioned product %s", req.ExecutionName))
	}

	if out.RecordDetail == nil || out.RecordDetail.RecordId == nil {
		return "", types.NewAppError(types.ErrCodeBackendUnavailable,
			fmt.Sprintf("termination of %s returned no record", req.ExecutionName), nil)
	}

	handle := types.ExecutionHandle(*out.RecordDetail.RecordId)
	b.logger.InfoContext(ctx, "product termination started",
		"provisioned_product", req.ExecutionName,
		"record_id", string(handle),
	)
	return handle, nil
}

// latestArtifact returns the product's most recently created provisioning
// artifact id.
func (b *CatalogBackend) latestArtifact(ctx context.Context, productID string) (string, error) {
	out, err := b.client.DescribeProduct(ctx, &servicecatalog.DescribeProductInput{
		Id: aws.String(productID),
	})
	if err != nil {
		return "", classify(err, types.ErrCodeBackendInvalidTarget,
			fmt.Sprintf("failed to describe product %s", productID))
	}

	artifacts := out.ProvisioningArtifacts
	if len(artifacts) == 0 {
		return "", types.NewAppError(types.ErrCodeBackendInvalidTarget,
			fmt.Sprintf("no provisioning artifacts found for product %s", productID), nil)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		ti, tj := artifacts[i].CreatedTime, artifacts[j].CreatedTime
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})

	return aws.ToString(artifacts[0].Id), nil
}

// launchPath returns the first available launch path for the product.
func (b *CatalogBackend) launchPath(ctx context.Context, productID string) (string, error) {
	out, err := b.client.ListLaunchPaths(ctx, &servicecatalog.ListLaunchPathsInput{
		ProductId: aws.String(productID),
	})
	if err != nil {
		return "", classify(err, types.ErrCodeBackendInvalidTarget,
			fmt.Sprintf("failed to list launch paths for product %s", productID))
	}

	if len(out.LaunchPathSummaries) == 0 {
		return "", types.NewAppError(types.ErrCodeBackendInvalidTarget,
			fmt.Sprintf("no launch paths found for product %s", productID), nil)
	}

	return aws.ToString(out.LaunchPathSummaries[0].Id), nil
}

func marshalRecordOutputs(outputs []scTypes.RecordOutput) string {
	if len(outputs) == 0 {
		return ""
	}
	kv := make(map[string]string, len(outputs))
	for _, o := range outputs {
		if o.OutputKey != nil {
			kv[*o.OutputKey] = aws.ToString(o.OutputValue)
		}
	}
	encoded, err := json.Marshal(kv)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func recordErrors(errs []scTypes.RecordError) string {
	if len(errs) == 0 {
		return "record failed without error detail"
	}
	detail := ""
	for i, e := range errs {
		if i > 0 {
			detail += "; "
		}
		detail += fmt.Sprintf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Description))
	}
	return detail
}
