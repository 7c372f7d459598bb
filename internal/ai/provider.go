package ai

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/guardedit/pkg/models"
)

// Rewriter transforms one file's text under the fixed edit policy.
// The returned string is the complete new file content.
type Rewriter interface {
	Rewrite(ctx context.Context, req models.RewriteRequest) (string, error)
}

// Classifier labels a diff with a risk verdict. Implementations may return
// a verdict together with an error; callers must treat any error as ESCALATE.
type Classifier interface {
	Classify(ctx context.Context, diff string) (models.RiskVerdict, error)
}

// RewriterFunc adapts a function to the Rewriter interface
type RewriterFunc func(ctx context.Context, req models.RewriteRequest) (string, error)

// Rewrite calls f(ctx, req)
func (f RewriterFunc) Rewrite(ctx context.Context, req models.RewriteRequest) (string, error) {
	return f(ctx, req)
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(ctx context.Context, diff string) (models.RiskVerdict, error)

// Classify calls f(ctx, diff)
func (f ClassifierFunc) Classify(ctx context.Context, diff string) (models.RiskVerdict, error) {
	return f(ctx, diff)
}

// Backend bundles the two capabilities offered by one model provider
type Backend struct {
	Rewriter   Rewriter
	Classifier Classifier
}

// BackendBuilder constructs a Backend from provider settings
type BackendBuilder func(ctx context.Context, opts Options) (*Backend, error)

// Options are the provider-independent settings passed to a BackendBuilder
type Options struct {
	Provider            string
	Model               string
	ClassifierModel     string
	APIKey              string
	BaseURL             string
	RewriteTemperature  float64
	RewriteMaxTokens    int
	ClassifyTemperature float64
	ClassifyMaxTokens   int
	RequestsPerMinute   int
	MaxRetries          int
	RewriteTimeout      time.Duration
	ClassifyTimeout     time.Duration
}

// Factory creates AI backends based on configuration
type Factory interface {
	Create(ctx context.Context, opts Options) (*Backend, error)
}

// DefaultFactory is the default implementation of Factory
type DefaultFactory struct {
	builders map[string]BackendBuilder
}

// NewDefaultFactory creates a new DefaultFactory
func NewDefaultFactory() *DefaultFactory {
	return &DefaultFactory{
		builders: make(map[string]BackendBuilder),
	}
}

// Register registers a builder under a provider name
func (f *DefaultFactory) Register(name string, builder BackendBuilder) {
	f.builders[name] = builder
}

// Providers lists the registered provider names
func (f *DefaultFactory) Providers() []string {
	names := make([]string, 0, len(f.builders))
	for name := range f.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds the backend registered for opts.Provider
func (f *DefaultFactory) Create(ctx context.Context, opts Options) (*Backend, error) {
	builder, ok := f.builders[opts.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, opts.Provider)
	}

	backend, err := builder(ctx, opts)
	if err != nil {
		return nil, err
	}
	if backend.Rewriter == nil || backend.Classifier == nil {
		return nil, fmt.Errorf("provider %s returned an incomplete backend", opts.Provider)
	}
	return backend, nil
}

// Errors
var (
	ErrProviderNotFound = error(ErrorProviderNotFound("ai provider not found"))
)

// ErrorProviderNotFound is returned when an AI provider is not found
type ErrorProviderNotFound string

func (e ErrorProviderNotFound) Error() string {
	return string(e)
}
