package discovery

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"

	"eventplane/internal/config"
	"eventplane/internal/types"
)

type listDocumentsCall struct {
	out *ssm.ListDocumentsOutput
	err error
}

// mockDocumentLister replays scripted pages in order and records inputs.
type mockDocumentLister struct {
	inputs []*ssm.ListDocumentsInput
	calls  []listDocumentsCall
}

func (m *mockDocumentLister) ListDocuments(_ context.Context, params *ssm.ListDocumentsInput, _ ...func(*ssm.Options)) (*ssm.ListDocumentsOutput, error) {
	m.inputs = append(m.inputs, params)
	call := m.calls[len(m.inputs)-1]
	return call.out, call.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDiscoveryConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		DocumentPageSize: 50,
		ProductPageSize:  20,
		InterCallDelay:   0,
	}
}

func documentPage(next string, names ...string) *ssm.ListDocumentsOutput {
	out := &ssm.ListDocumentsOutput{}
	for _, name := range names {
		out.DocumentIdentifiers = append(out.DocumentIdentifiers, ssmtypes.DocumentIdentifier{
			Name: aws.String(name),
		})
	}
	if next != "" {
		out.NextToken = aws.String(next)
	}
	return out
}

func TestAutomationDiscover_PaginatesWithServerSideFilters(t *testing.T) {
	client := &mockDocumentLister{calls: []listDocumentsCall{
		{out: documentPage("page-2", "deploy-a", "deploy-b")},
		{out: documentPage("", "deploy-c")},
	}}
	d := NewAutomationDiscoverer(client, testDiscoveryConfig(), discardLogger())

	got, err := d.Discover(context.Background(), "platform", "events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []types.DiscoveredResource{"deploy-a", "deploy-b", "deploy-c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	first := client.inputs[0]
	if *first.MaxResults != 50 {
		t.Errorf("page size = %d", *first.MaxResults)
	}
	if first.NextToken != nil {
		t.Error("first page must not carry a token")
	}
	if len(first.Filters) != 2 {
		t.Fatalf("got %d filters", len(first.Filters))
	}
	if *first.Filters[0].Key != "DocumentType" || first.Filters[0].Values[0] != "Automation" {
		t.Errorf("type filter = %v", first.Filters[0])
	}
	if *first.Filters[1].Key != "tag:platform" || first.Filters[1].Values[0] != "events" {
		t.Errorf("tag filter = %v", first.Filters[1])
	}
	if *client.inputs[1].NextToken != "page-2" {
		t.Errorf("second page token = %q", *client.inputs[1].NextToken)
	}
}

func TestAutomationDiscover_ThrottleReturnsPartialResult(t *testing.T) {
	client := &mockDocumentLister{calls: []listDocumentsCall{
		{out: documentPage("page-2", "deploy-a", "deploy-b")},
		{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}},
	}}
	d := NewAutomationDiscoverer(client, testDiscoveryConfig(), discardLogger())

	got, err := d.Discover(context.Background(), "platform", "events")
	if err != nil {
		t.Fatalf("throttle must not surface as an error, got %v", err)
	}
	if len(got) != 2 || got[0] != "deploy-a" || got[1] != "deploy-b" {
		t.Errorf("partial result = %v", got)
	}
}

func TestAutomationDiscover_OtherErrorsSurface(t *testing.T) {
	client := &mockDocumentLister{calls: []listDocumentsCall{
		{err: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "nope"}},
	}}
	d := NewAutomationDiscoverer(client, testDiscoveryConfig(), discardLogger())

	_, err := d.Discover(context.Background(), "platform", "events")
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := types.CodeOf(err); got != types.ErrCodeBackendUnavailable {
		t.Errorf("code = %q, want %q", got, types.ErrCodeBackendUnavailable)
	}
}

func TestAutomationDiscover_DedupesPreservingOrder(t *testing.T) {
	client := &mockDocumentLister{calls: []listDocumentsCall{
		{out: documentPage("page-2", "deploy-a", "deploy-b")},
		{out: documentPage("", "deploy-a", "deploy-c")},
	}}
	d := NewAutomationDiscoverer(client, testDiscoveryConfig(), discardLogger())

	got, err := d.Discover(context.Background(), "platform", "events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []types.DiscoveredResource{"deploy-a", "deploy-b", "deploy-c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
