package langchain

import (
	"context"
	"fmt"

	"github.com/guardedit/internal/ai"
	"github.com/guardedit/internal/llm"
	"github.com/guardedit/internal/retry"
)

// Register adds a builder for every supported provider to the factory
func Register(f *ai.DefaultFactory) {
	for _, p := range Providers {
		f.Register(string(p), NewBackend)
	}
}

// NewBackend builds the rewriter and classifier for opts.Provider.
// The classifier gets its own connector when it uses a different model.
func NewBackend(ctx context.Context, opts ai.Options) (*ai.Backend, error) {
	rewriteConn, err := NewConnector(ctx, ConnectorOptions{
		Provider: Provider(opts.Provider),
		Model:    opts.Model,
		APIKey:   opts.APIKey,
		BaseURL:  opts.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	classifyConn := rewriteConn
	if opts.ClassifierModel != "" && opts.ClassifierModel != opts.Model {
		classifyConn, err = NewConnector(ctx, ConnectorOptions{
			Provider: Provider(opts.Provider),
			Model:    opts.ClassifierModel,
			APIKey:   opts.APIKey,
			BaseURL:  opts.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("classifier connector: %w", err)
		}
	}

	return BackendFromClients(rewriteConn, classifyConn, opts), nil
}

// BackendFromClients wires already constructed clients into a Backend.
func BackendFromClients(rewriteClient, classifyClient llm.Client, opts ai.Options) *ai.Backend {
	retryCfg := retry.LLMRetryConfig()
	if opts.MaxRetries >= 0 {
		retryCfg.MaxRetries = opts.MaxRetries
	}

	rewriteGen := llm.NewResilientClient(rewriteClient,
		llm.WithRetryConfig(retryCfg),
		llm.WithRequestsPerMinute(opts.RequestsPerMinute),
		llm.WithTimeout(opts.RewriteTimeout),
	)
	classifyGen := llm.NewResilientClient(classifyClient,
		llm.WithRetryConfig(retryCfg),
		llm.WithRequestsPerMinute(opts.RequestsPerMinute),
		llm.WithTimeout(opts.ClassifyTimeout),
	)

	return &ai.Backend{
		Rewriter:   ai.NewLLMRewriter(rewriteGen, opts.RewriteTemperature, opts.RewriteMaxTokens),
		Classifier: ai.NewLLMClassifier(classifyGen, opts.ClassifyTemperature, opts.ClassifyMaxTokens),
	}
}
