package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guardedit/internal/audit"
	"github.com/guardedit/internal/diff"
	"github.com/guardedit/internal/gate"
	"github.com/guardedit/internal/logging"
	"github.com/guardedit/internal/publish"
	"github.com/guardedit/internal/rewrite"
	"github.com/guardedit/internal/target"
	"github.com/guardedit/internal/vcs"
	"github.com/guardedit/pkg/models"
)

// ErrPrecondition wraps every failure that stops a run before it touches the working tree
var ErrPrecondition = errors.New("precondition failed")

// ErrCollect wraps a failure to read the diff of the rewritten files
var ErrCollect = errors.New("diff collection failed")

// Options are the per-run inputs
type Options struct {
	Path         string
	Objective    string
	Mode         models.Mode
	MaxFiles     int
	Branch       string
	Push         bool
	OpenReview   bool
	BranchPrefix string
	Sync         bool
}

// Deps are the collaborators a Runner drives
type Deps struct {
	Repo      vcs.Repository
	Resolver  *target.Resolver
	Applier   *rewrite.Applier
	Gate      *gate.Gate
	Publisher *publish.Controller
	Audit     audit.Sink

	CommitPrefix string
	Author       vcs.Identity
	StageScope   string
	LogDir       string
}

// Runner executes the guarded change pipeline against one repository.
// Runs against the same repository must not overlap.
type Runner struct {
	deps      Deps
	collector *diff.Collector
}

// NewRunner creates a runner
func NewRunner(deps Deps) *Runner {
	if deps.Audit == nil {
		deps.Audit = audit.LogSink{}
	}
	return &Runner{deps: deps, collector: diff.NewCollector(deps.Repo)}
}

func precondition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// Run resolves targets, rewrites them, gates the resulting diff and publishes it.
// The outcome is returned even when err is non-nil, except for precondition failures.
func (r *Runner) Run(ctx context.Context, opts Options) (*models.Outcome, error) {
	runID := uuid.NewString()
	logger := logging.WithRunID(runID)

	if strings.TrimSpace(opts.Objective) == "" {
		return nil, precondition("an objective is required")
	}
	if opts.Mode != models.ModeGuarded && opts.Mode != models.ModeDirect {
		return nil, precondition("unknown mode %q", opts.Mode)
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}

	runLog, err := logging.StartRunLogging(runID, r.deps.LogDir)
	if err != nil {
		logger.Warn().Err(err).Msg("Run transcript disabled")
	}
	defer runLog.Close()

	outcome := &models.Outcome{
		RunID:     runID,
		Objective: opts.Objective,
		Mode:      opts.Mode,
		StartedAt: time.Now(),
	}

	logger.Info().
		Str("path", opts.Path).
		Str("mode", string(opts.Mode)).
		Str("branch", opts.Branch).
		Bool("push", opts.Push).
		Msg("Starting guarded edit run")
	runLog.LogSection("PRECONDITIONS")

	if err := r.deps.Repo.Verify(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	if opts.Sync {
		if err := r.deps.Repo.Sync(ctx, opts.Branch); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPrecondition, err)
		}
	}

	candidates, err := r.deps.Resolver.Resolve(r.deps.Repo.Root(), opts.Path, opts.MaxFiles)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	outcome.Candidates = len(candidates)

	defer func() {
		outcome.FinishedAt = time.Now()
		if err := r.deps.Audit.Record(context.WithoutCancel(ctx), audit.FromOutcome(outcome)); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run")
		}
	}()

	if len(candidates) == 0 {
		outcome.State = models.StateNoChanges
		outcome.Message = "no eligible files under " + displayPath(opts.Path)
		logger.Info().Msg(outcome.Message)
		return outcome, nil
	}

	runLog.LogSection("REWRITE")
	results := r.deps.Applier.Apply(ctx, candidates, opts.Objective)
	for _, res := range results {
		runLog.Log("%s: %s", res.File.RelPath, res.Status)
	}
	touched := rewrite.TouchedPaths(results)
	if failed := rewrite.Failures(results); len(failed) > 0 {
		logger.Warn().Int("failed", len(failed)).Msg("Some files could not be rewritten")
	}

	runLog.LogSection("DIFF")
	cs, err := r.collector.Collect(ctx, touched)
	if err != nil {
		return outcome, fmt.Errorf("%w: %w", ErrCollect, err)
	}
	outcome.Touched = cs.Paths()
	outcome.Inserted = cs.Inserted
	outcome.Deleted = cs.Deleted

	if cs.Empty() {
		outcome.State = models.StateNoChanges
		outcome.Message = "no differences to commit"
		logger.Info().Msg(outcome.Message)
		return outcome, nil
	}
	logger.Info().
		Int("files", cs.TouchedFiles()).
		Int("inserted", cs.Inserted).
		Int("deleted", cs.Deleted).
		Msg("Changes collected")

	runLog.LogSection("RISK GATE")
	result := r.deps.Gate.Evaluate(ctx, cs, opts.Mode)
	outcome.Gate = &result
	for _, reason := range result.Reasons {
		runLog.Log("signal: %s", reason)
	}
	runLog.Log("verdict: %s", result.Verdict)
	if result.Sensitive {
		runLog.Log("diff withheld: secret scanner flagged added lines")
	} else {
		runLog.LogBlock("diff", cs.Diff)
	}

	runLog.LogSection("PUBLISH")
	published, err := r.deps.Publisher.Publish(ctx, result, publish.Options{
		Mode:         opts.Mode,
		Objective:    opts.Objective,
		TargetBranch: opts.Branch,
		Push:         opts.Push,
		OpenReview:   opts.OpenReview,
		BranchPrefix: opts.BranchPrefix,
		CommitPrefix: r.deps.CommitPrefix,
		Author:       r.deps.Author,
		StageScope:   r.deps.StageScope,
		Touched:      outcome.Touched,
	})
	if published != nil {
		outcome.State = published.State
		outcome.Plan = published.Plan
		outcome.Branch = published.Branch
		outcome.ReviewURL = published.ReviewURL
		outcome.ManualReview = published.ManualReview
		outcome.PublishErr = published.PublishErr
		outcome.Message = published.Message
	}
	if err != nil {
		return outcome, err
	}

	logger.Info().
		Str("state", string(outcome.State)).
		Stringer("verdict", outcome.Verdict()).
		Str("branch", outcome.Branch).
		Msg("Run finished")
	return outcome, nil
}

func displayPath(p string) string {
	if strings.TrimSpace(p) == "" {
		return "."
	}
	return p
}
