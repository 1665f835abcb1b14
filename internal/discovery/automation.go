package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"eventplane/internal/config"
	"eventplane/internal/types"
)

// DocumentLister is the slice of the Systems Manager API the automation
// discoverer uses.
type DocumentLister interface {
	ListDocuments(ctx context.Context, params *ssm.ListDocumentsInput, optFns ...func(*ssm.Options)) (*ssm.ListDocumentsOutput, error)
}

// AutomationDiscoverer enumerates automation documents by tag. The list call
// filters server-side on document type and tag, so every returned identifier
// already matches; pages are capped at the configured size and separated by
// the inter-call delay.
type AutomationDiscoverer struct {
	client    DocumentLister
	pageSize  int32
	callDelay time.Duration
	logger    *slog.Logger
}

// NewAutomationDiscoverer creates a discoverer over the given client.
func NewAutomationDiscoverer(client DocumentLister, cfg config.DiscoveryConfig, logger *slog.Logger) *AutomationDiscoverer {
	return &AutomationDiscoverer{
		client:    client,
		pageSize:  cfg.DocumentPageSize,
		callDelay: cfg.InterCallDelay,
		logger:    logger,
	}
}

// Discover lists every automation document tagged tagKey=tagValue.
func (d *AutomationDiscoverer) Discover(ctx context.Context, tagKey, tagValue string) ([]types.DiscoveredResource, error) {
	var out []types.DiscoveredResource
	var nextToken *string

	for {
		resp, err := d.client.ListDocuments(ctx, &ssm.ListDocumentsInput{
			NextToken:  nextToken,
			MaxResults: aws.Int32(d.pageSize),
			Filters: []ssmtypes.DocumentKeyValuesFilter{
				{Key: aws.String("DocumentType"), Values: []string{"Automation"}},
				{Key: aws.String("tag:" + tagKey), Values: []string{tagValue}},
			},
		})
		if err != nil {
			if isThrottle(err) {
				d.logger.Warn("document discovery throttled, returning partial result",
					"collected", len(out), "error", err)
				return dedupe(out), nil
			}
			return nil, types.NewAppError(types.ErrCodeBackendUnavailable,
				"failed to list automation documents", err)
		}

		for _, doc := range resp.DocumentIdentifiers {
			if doc.Name != nil {
				out = append(out, types.DiscoveredResource(*doc.Name))
			}
		}

		nextToken = resp.NextToken
		if nextToken == nil {
			break
		}
		if err := pace(ctx, d.callDelay); err != nil {
			return nil, err
		}
	}

	return dedupe(out), nil
}
