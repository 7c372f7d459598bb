package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guardedit/internal/ai"
	"github.com/guardedit/internal/ai/langchain"
	"github.com/guardedit/internal/audit"
	"github.com/guardedit/internal/config"
	"github.com/guardedit/internal/gate"
	"github.com/guardedit/internal/pipeline"
	"github.com/guardedit/internal/publish"
	"github.com/guardedit/internal/review"
	"github.com/guardedit/internal/rewrite"
	"github.com/guardedit/internal/target"
	"github.com/guardedit/internal/vcs"
)

// attempts bounds a whole retried call: one per attempt plus the retries
func attempts(perAttempt time.Duration, retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	return perAttempt * time.Duration(retries+1)
}

// buildRunner wires the pipeline collaborators from configuration.
// The returned cleanup releases the audit sink.
func buildRunner(ctx context.Context, cfg *config.Config) (*pipeline.Runner, func(), error) {
	repo, err := vcs.Open(ctx, ".",
		vcs.WithRemote(cfg.Git.Remote),
		vcs.WithTimeout(cfg.Timeouts.Git),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", pipeline.ErrPrecondition, err)
	}

	factory := ai.NewDefaultFactory()
	langchain.Register(factory)
	backend, err := factory.Create(ctx, ai.Options{
		Provider:            cfg.AI.Provider,
		Model:               cfg.AI.Model,
		ClassifierModel:     cfg.AI.ClassifierModel,
		APIKey:              cfg.AI.APIKey,
		BaseURL:             cfg.AI.BaseURL,
		RewriteTemperature:  cfg.AI.RewriteTemperature,
		RewriteMaxTokens:    cfg.AI.RewriteMaxTokens,
		ClassifyTemperature: cfg.AI.ClassifyTemperature,
		ClassifyMaxTokens:   cfg.AI.ClassifyMaxTokens,
		RequestsPerMinute:   cfg.AI.RequestsPerMinute,
		MaxRetries:          cfg.AI.MaxRetries,
		RewriteTimeout:      cfg.Timeouts.Rewrite,
		ClassifyTimeout:     cfg.Timeouts.Classify,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ai backend: %w", pipeline.ErrPrecondition, err)
	}

	resolver := target.NewResolver(target.Options{
		AllowedExtensions: cfg.Targets.AllowedExtensions,
		ExcludedDirs:      cfg.Targets.ExcludedDirs,
		MaxFileSize:       cfg.Targets.MaxFileSize,
	})

	applier := rewrite.NewApplier(backend.Rewriter, rewrite.Options{
		Concurrency: cfg.Rewrite.Concurrency,
		AllowEmpty:  cfg.Rewrite.AllowEmpty,
		Timeout:     attempts(cfg.Timeouts.Rewrite, cfg.AI.MaxRetries),
	}, nil)

	riskGate := gate.New(backend.Classifier,
		gate.WithScanners(buildScanners(cfg, repo.Root())...),
		gate.WithTimeout(attempts(cfg.Timeouts.Classify, cfg.AI.MaxRetries)),
	)

	requester, err := review.NewStandardRequesterFactory().CreateRequester(review.ProviderConfig{
		Type:    cfg.Review.Provider,
		URL:     cfg.Review.GitLabURL,
		Token:   cfg.Review.GitLabToken,
		Project: cfg.Review.GitLabProject,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: review provider: %w", pipeline.ErrPrecondition, err)
	}

	publisher := publish.NewController(repo, requester, publish.WithReviewTimeout(cfg.Timeouts.Review))

	sink := audit.Open(ctx, cfg.Audit.DSN, cfg.Audit.Table)

	runner := pipeline.NewRunner(pipeline.Deps{
		Repo:         repo,
		Resolver:     resolver,
		Applier:      applier,
		Gate:         riskGate,
		Publisher:    publisher,
		Audit:        sink,
		CommitPrefix: cfg.Git.CommitPrefix,
		Author:       vcs.Identity{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail},
		StageScope:   cfg.Git.StageScope,
		LogDir:       cfg.Logging.Dir,
	})
	return runner, sink.Close, nil
}

// buildScanners returns the enabled deterministic scanners, secrets first
func buildScanners(cfg *config.Config, root string) []gate.Scanner {
	var scanners []gate.Scanner
	if cfg.Gate.SecretScan {
		secrets, err := gate.NewSecretScanner()
		if err != nil {
			log.Warn().Err(err).Msg("Secret scanner unavailable, continuing without it")
		} else {
			scanners = append(scanners, secrets)
		}
	}
	if cfg.Gate.InjectionScan {
		scanners = append(scanners, gate.NewInjectionScanner())
	}
	if cfg.Gate.ContractScan {
		scanners = append(scanners, gate.NewContractScanner(root))
	}
	return scanners
}
