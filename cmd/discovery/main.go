// Package main is the entrypoint for the Discovery Lambda function.
//
// The Discovery Lambda serves the API layer's resource lookups: it
// enumerates the automation documents or catalog products carrying a given
// tag and returns their identifiers. The invocation selects the variant by
// kind; tag key and value default to the configured filter when omitted.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/servicecatalog"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"eventplane/internal/config"
	"eventplane/internal/discovery"
	"eventplane/internal/types"
)

// DiscoverInput is the invocation payload.
type DiscoverInput struct {
	// Kind selects the variant: "automation" or "catalog".
	Kind     string `json:"kind"`
	TagKey   string `json:"tag_key,omitempty"`
	TagValue string `json:"tag_value,omitempty"`
}

// DiscoverOutput is the invocation result: resource identifiers only.
type DiscoverOutput struct {
	Resources []types.DiscoveredResource `json:"resources"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("discovery Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// The discoverers rely on the SDK's own bounded retry before treating a
	// throttle as final, so the attempt cap is injected here.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWS.Region),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), cfg.Discovery.MaxAttempts)
		}),
	)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	ssmClient := ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	scClient := servicecatalog.NewFromConfig(awsCfg, func(o *servicecatalog.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	discoverers := map[string]discovery.Discoverer{
		"automation": discovery.NewAutomationDiscoverer(ssmClient, cfg.Discovery, logger),
		"catalog":    discovery.NewCatalogDiscoverer(scClient, cfg.Discovery, logger),
	}

	logger.Info("discovery Lambda initialized",
		"tag_key", cfg.Discovery.TagKey,
		"tag_value", cfg.Discovery.TagValue,
		"max_attempts", cfg.Discovery.MaxAttempts,
	)

	lambda.Start(func(ctx context.Context, input DiscoverInput) (DiscoverOutput, error) {
		d, ok := discoverers[input.Kind]
		if !ok {
			return DiscoverOutput{}, types.NewAppError(types.ErrCodeInternalUnexpected,
				"unsupported discovery kind "+input.Kind, nil)
		}

		tagKey, tagValue := input.TagKey, input.TagValue
		if tagKey == "" {
			tagKey = cfg.Discovery.TagKey
		}
		if tagValue == "" {
			tagValue = cfg.Discovery.TagValue
		}

		resources, err := d.Discover(ctx, tagKey, tagValue)
		if err != nil {
			logger.ErrorContext(ctx, "discovery failed",
				"kind", input.Kind, "tag_key", tagKey, "error", err)
			return DiscoverOutput{}, err
		}

		logger.InfoContext(ctx, "discovery complete",
			"kind", input.Kind, "tag_key", tagKey, "resources", len(resources))
		return DiscoverOutput{Resources: resources}, nil
	})
}
