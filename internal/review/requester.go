package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned when no review tooling can be reached.
// Callers treat it as "open the review request manually".
var ErrUnavailable = errors.New("review request tooling unavailable")

// Request describes a review request from a side branch into the target branch
type Request struct {
	Source string
	Target string
	Title  string
	Body   string
}

// Requester opens review requests on a hosting provider.
// The returned reference is a URL when the provider reports one.
type Requester interface {
	Open(ctx context.Context, req Request) (string, error)
}

// ProviderConfig selects and configures a Requester
type ProviderConfig struct {
	Type    string // github, gitlab or none
	URL     string
	Token   string
	Project string
}

// None never opens anything
type None struct{}

// Open implements Requester
func (None) Open(ctx context.Context, req Request) (string, error) {
	return "", ErrUnavailable
}

// StandardRequesterFactory builds requesters for the supported providers
type StandardRequesterFactory struct{}

// NewStandardRequesterFactory creates a new StandardRequesterFactory
func NewStandardRequesterFactory() *StandardRequesterFactory {
	return &StandardRequesterFactory{}
}

// CreateRequester creates a requester instance based on configuration
func (f *StandardRequesterFactory) CreateRequester(config ProviderConfig) (Requester, error) {
	switch strings.ToLower(config.Type) {
	case "github", "":
		return NewGitHubCLI(), nil
	case "gitlab":
		return NewGitLab(config)
	case "none":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unsupported review provider: %s", config.Type)
	}
}

// SupportsProvider checks if the factory supports the given provider type
func (f *StandardRequesterFactory) SupportsProvider(providerType string) bool {
	switch strings.ToLower(providerType) {
	case "github", "gitlab", "none":
		return true
	}
	return false
}
