package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicecatalog"

	"eventplane/internal/config"
	"eventplane/internal/types"
)

// CatalogBrowser is the slice of the Service Catalog API the catalog
// discoverer uses.
type CatalogBrowser interface {
	SearchProductsAsAdmin(ctx context.Context, params *servicecatalog.SearchProductsAsAdminInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.SearchProductsAsAdminOutput, error)
	ListPortfoliosForProduct(ctx context.Context, params *servicecatalog.ListPortfoliosForProductInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.ListPortfoliosForProductOutput, error)
	DescribeProductAsAdmin(ctx context.Context, params *servicecatalog.DescribeProductAsAdminInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.DescribeProductAsAdminOutput, error)
}

// CatalogDiscoverer enumerates catalog products by tag. The search API has no
// server-side tag filter, so every candidate needs a portfolio-association
// lookup and a describe call to confirm the tag. A fixed delay precedes every
// downstream call; a throttle that survives the SDK's bounded retries stops
// the enumeration early with the partial result.
type CatalogDiscoverer struct {
	client    CatalogBrowser
	pageSize  int32
	callDelay time.Duration
	logger    *slog.Logger
}

// NewCatalogDiscoverer creates a discoverer over the given client.
func NewCatalogDiscoverer(client CatalogBrowser, cfg config.DiscoveryConfig, logger *slog.Logger) *CatalogDiscoverer {
	return &CatalogDiscoverer{
		client:    client,
		pageSize:  cfg.ProductPageSize,
		callDelay: cfg.InterCallDelay,
		logger:    logger,
	}
}

// Discover lists every catalog product tagged tagKey=tagValue. Only products
// with at least one portfolio association are considered launchable
// candidates.
func (d *CatalogDiscoverer) Discover(ctx context.Context, tagKey, tagValue string) ([]types.DiscoveredResource, error) {
	var out []types.DiscoveredResource
	var pageToken *string

	for {
		if err := pace(ctx, d.callDelay); err != nil {
			return nil, err
		}

		page, err := d.client.SearchProductsAsAdmin(ctx, &servicecatalog.SearchProductsAsAdminInput{
			PageToken: pageToken,
			PageSize:  d.pageSize,
		})
		if err != nil {
			if isThrottle(err) {
				d.logger.Warn("product discovery throttled, returning partial result",
					"collected", len(out), "error", err)
				return dedupe(out), nil
			}
			return nil, types.NewAppError(types.ErrCodeBackendUnavailable,
				"failed to search catalog products", err)
		}

		for _, detail := range page.ProductViewDetails {
			if detail.ProductViewSummary == nil || detail.ProductViewSummary.ProductId == nil {
				continue
			}
			productID := *detail.ProductViewSummary.ProductId

			matched, err := d.confirmTag(ctx, productID, tagKey, tagValue)
			if err != nil {
				if isThrottle(err) {
					d.logger.Warn("product discovery throttled, returning partial result",
						"collected", len(out), "product_id", productID, "error", err)
					return dedupe(out), nil
				}
				return nil, err
			}
			if matched {
				out = append(out, types.DiscoveredResource(productID))
			}
		}

		pageToken = page.NextPageToken
		if pageToken == nil {
			break
		}
	}

	return dedupe(out), nil
}

// confirmTag checks that the product is associated with a portfolio and
// carries the exact tag pair.
func (d *CatalogDiscoverer) confirmTag(ctx context.Context, productID, tagKey, tagValue string) (bool, error) {
	if err := pace(ctx, d.callDelay); err != nil {
		return false, err
	}
	portfolios, err := d.client.ListPortfoliosForProduct(ctx, &servicecatalog.ListPortfoliosForProductInput{
		ProductId: aws.String(productID),
	})
	if err != nil {
		return false, types.NewAppError(types.ErrCodeBackendUnavailable,
			fmt.Sprintf("failed to list portfolios for product %s", productID), err)
	}
	if len(portfolios.PortfolioDetails) == 0 {
		return false, nil
	}

	if err := pace(ctx, d.callDelay); err != nil {
		return false, err
	}
	described, err := d.client.DescribeProductAsAdmin(ctx, &servicecatalog.DescribeProductAsAdminInput{
		Id: aws.String(productID),
	})
	if err != nil {
		return false, types.NewAppError(types.ErrCodeBackendUnavailable,
			fmt.Sprintf("failed to describe product %s", productID), err)
	}

	for _, tag := range described.Tags {
		if tag.Key != nil && tag.Value != nil && *tag.Key == tagKey && *tag.Value == tagValue {
			return true, nil
		}
	}
	return false, nil
}
