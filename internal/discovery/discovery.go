// Package discovery enumerates backend-native resources carrying a given
// tag, one discoverer per orchestration variant. Both discoverers paginate
// with a fixed delay between downstream calls to stay under backend quota
// and return a deduplicated identifier set; neither mutates state.
package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"eventplane/internal/types"
)

// Discoverer enumerates the resources tagged tagKey=tagValue for one
// orchestration variant.
type Discoverer interface {
	Discover(ctx context.Context, tagKey, tagValue string) ([]types.DiscoveredResource, error)
}

// pace sleeps for the configured inter-call delay, cancellable.
func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// isThrottle reports whether err is a rate-limit rejection that survived the
// SDK's own bounded retries. Such errors end the enumeration early with a
// partial result instead of failing the call.
func isThrottle(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "LimitExceededException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

// dedupe collapses the collected identifiers into a unique set, preserving
// first-seen order.
func dedupe(ids []types.DiscoveredResource) []types.DiscoveredResource {
	seen := make(map[types.DiscoveredResource]struct{}, len(ids))
	out := make([]types.DiscoveredResource, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
