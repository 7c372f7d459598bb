package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guardedit/internal/logging"
	"github.com/guardedit/internal/review"
	"github.com/guardedit/internal/vcs"
	"github.com/guardedit/pkg/models"
)

// Stage scopes
const (
	StageAll     = "all"
	StageTouched = "touched"
)

// Defaults used when Options leave them empty
const (
	DefaultCommitPrefix = "chore(ai-edit)"
	DefaultBranchPrefix = "ai-edit/auto-"
)

// DefaultAuthor is the identity commits are made with
var DefaultAuthor = vcs.Identity{
	Name:  "github-actions[bot]",
	Email: "41898282+github-actions[bot]@users.noreply.github.com",
}

// ErrPublish wraps failures to stage or commit
var ErrPublish = errors.New("publish failed")

// Options are the run settings the controller needs
type Options struct {
	Mode         models.Mode
	Objective    string
	TargetBranch string
	Push         bool
	OpenReview   bool
	BranchPrefix string
	CommitPrefix string
	Author       vcs.Identity
	StageScope   string
	Touched      []string
}

// Controller drives the commit / push / review-request state machine
type Controller struct {
	repo          vcs.Repository
	requester     review.Requester
	now           func() time.Time
	reviewTimeout time.Duration
	logger        *logging.RunLogger
}

// Option configures a Controller
type Option func(*Controller)

// WithClock overrides the clock used for review branch names
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithReviewTimeout bounds the review request call
func WithReviewTimeout(d time.Duration) Option {
	return func(c *Controller) { c.reviewTimeout = d }
}

// WithRunLogger mirrors transitions into the run transcript
func WithRunLogger(l *logging.RunLogger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a controller. A nil requester behaves like review.None.
func NewController(repo vcs.Repository, requester review.Requester, opts ...Option) *Controller {
	if requester == nil {
		requester = review.None{}
	}
	c := &Controller{repo: repo, requester: requester, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) transcript() *logging.RunLogger {
	if c.logger != nil {
		return c.logger
	}
	return logging.GetCurrentLogger()
}

// CommitMessage builds "<prefix>: <objective> [skip ci]", tagged in guarded mode
func CommitMessage(prefix, objective string, mode models.Mode) string {
	if prefix == "" {
		prefix = DefaultCommitPrefix
	}
	msg := fmt.Sprintf("%s: %s [skip ci]", prefix, strings.TrimSpace(objective))
	if mode == models.ModeGuarded {
		msg += " [guarded]"
	}
	return msg
}

// BuildPlan derives what the controller may do from the gate result and the run options.
// Only a change that may be published directly is committed on the target branch;
// everything else is committed on a side branch so the target never carries it.
func BuildPlan(gate models.GateResult, opts Options, now time.Time) models.PublishPlan {
	plan := models.PublishPlan{
		TargetBranch: opts.TargetBranch,
		CommitBranch: opts.TargetBranch,
		Push:         opts.Push,
		Message:      CommitMessage(opts.CommitPrefix, opts.Objective, opts.Mode),
	}
	prefix := opts.BranchPrefix
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}

	if gate.Verdict == models.VerdictReject {
		plan.Push = false
		plan.CommitBranch = fmt.Sprintf("%srejected-%d", prefix, now.Unix())
		return plan
	}

	plan.Direct = opts.Mode == models.ModeDirect &&
		!gate.HeuristicEscalated &&
		gate.Verdict == models.VerdictAllow
	if plan.Direct {
		return plan
	}

	plan.CommitBranch = fmt.Sprintf("%s%d", prefix, now.Unix())
	if plan.Push {
		plan.ReviewBranch = plan.CommitBranch
		plan.OpenReview = opts.OpenReview
		plan.Title = "AI edit: " + strings.TrimSpace(opts.Objective)
		plan.Body = reviewBody(gate, opts.Mode)
	}
	return plan
}

func reviewBody(gate models.GateResult, mode models.Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated edit opened for review (%s mode).\n\n", mode)
	fmt.Fprintf(&b, "Risk verdict: %s\n", gate.Verdict)
	if len(gate.Reasons) > 0 {
		b.WriteString("\nSignals:\n")
		for _, r := range gate.Reasons {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}

// Publish stages, commits and, depending on the plan, pushes the working tree changes.
// A REJECT verdict is never pushed and its commit is kept on a local quarantine branch.
// Push failures are reported in the outcome, not as an error; the returned error is
// reserved for stage, branch and commit failures.
func (c *Controller) Publish(ctx context.Context, gate models.GateResult, opts Options) (*models.Outcome, error) {
	if opts.Author.Name == "" {
		opts.Author = DefaultAuthor
	}
	plan := BuildPlan(gate, opts, c.now())
	outcome := &models.Outcome{Mode: opts.Mode, Objective: opts.Objective, Plan: &plan, Gate: &gate}

	if err := c.stage(ctx, opts); err != nil {
		return outcome, fmt.Errorf("%w: staging: %v", ErrPublish, err)
	}
	staged, err := c.repo.HasStagedChanges(ctx)
	if err != nil {
		return outcome, fmt.Errorf("%w: checking staged changes: %v", ErrPublish, err)
	}
	if !staged {
		c.transition(outcome, models.StateNoChanges, "nothing staged, no commit made")
		return outcome, nil
	}
	c.transition(outcome, models.StateStagedLocal, "changes staged")

	if plan.CommitBranch != plan.TargetBranch {
		if err := c.repo.CreateBranch(ctx, plan.CommitBranch); err != nil {
			return outcome, fmt.Errorf("%w: creating %s: %v", ErrPublish, plan.CommitBranch, err)
		}
		defer c.returnTo(ctx, plan.TargetBranch)
	}

	if err := c.repo.Commit(ctx, plan.Message, opts.Author); err != nil {
		return outcome, fmt.Errorf("%w: commit: %v", ErrPublish, err)
	}
	outcome.Branch = plan.CommitBranch
	c.transition(outcome, models.StateCommitted, plan.Message)

	if gate.Verdict == models.VerdictReject {
		c.transition(outcome, models.StateAborted, fmt.Sprintf(
			"risk gate rejected the change; it was committed on local branch %s and nothing was pushed", plan.CommitBranch))
		return outcome, nil
	}

	if !plan.Push {
		outcome.Message = "committed locally on " + plan.CommitBranch + "; push not requested"
		log.Info().Str("branch", plan.CommitBranch).Msg("Push not requested, use --push to publish")
		return outcome, nil
	}

	if plan.Direct {
		if err := c.repo.Push(ctx, plan.TargetBranch, false); err != nil {
			return c.pushFailed(outcome, plan.TargetBranch, err), nil
		}
		c.transition(outcome, models.StatePublishedDirect, "pushed to "+plan.TargetBranch)
		return outcome, nil
	}

	return c.publishForReview(ctx, outcome, plan), nil
}

// returnTo checks the target branch back out after committing on a side branch
func (c *Controller) returnTo(ctx context.Context, branch string) {
	if err := c.repo.Checkout(context.WithoutCancel(ctx), branch); err != nil {
		log.Warn().Err(err).Str("branch", branch).Msg("Could not check the target branch back out")
		c.transcript().LogError("checkout "+branch, err)
	}
}

func (c *Controller) stage(ctx context.Context, opts Options) error {
	if opts.StageScope == StageAll {
		return c.repo.StageAll(ctx)
	}
	if len(opts.Touched) == 0 {
		return nil
	}
	return c.repo.StagePaths(ctx, opts.Touched)
}

func (c *Controller) publishForReview(ctx context.Context, outcome *models.Outcome, plan models.PublishPlan) *models.Outcome {
	if err := c.repo.Push(ctx, plan.ReviewBranch, true); err != nil {
		return c.pushFailed(outcome, plan.ReviewBranch, err)
	}
	c.transition(outcome, models.StatePublishedForReview, "pushed review branch "+plan.ReviewBranch)

	if !plan.OpenReview {
		outcome.ManualReview = true
		outcome.Message = fmt.Sprintf("open a review request from %s into %s", plan.ReviewBranch, plan.TargetBranch)
		return outcome
	}

	reviewCtx := ctx
	if c.reviewTimeout > 0 {
		var cancel context.CancelFunc
		reviewCtx, cancel = context.WithTimeout(ctx, c.reviewTimeout)
		defer cancel()
	}

	ref, err := c.requester.Open(reviewCtx, review.Request{
		Source: plan.ReviewBranch,
		Target: plan.TargetBranch,
		Title:  plan.Title,
		Body:   plan.Body,
	})
	if err != nil {
		outcome.ManualReview = true
		outcome.Message = fmt.Sprintf("branch %s pushed; open the review request into %s manually", plan.ReviewBranch, plan.TargetBranch)
		if errors.Is(err, review.ErrUnavailable) {
			log.Info().Str("branch", plan.ReviewBranch).Msg("No review tooling available, manual review request needed")
		} else {
			log.Warn().Err(err).Str("branch", plan.ReviewBranch).Msg("Review request failed, manual review request needed")
		}
		c.transcript().LogError("review request", err)
		return outcome
	}

	outcome.ReviewURL = ref
	outcome.Message = "review request opened: " + ref
	return outcome
}

// pushFailed keeps the run at Committed and records the failure
func (c *Controller) pushFailed(outcome *models.Outcome, branch string, err error) *models.Outcome {
	outcome.PublishErr = fmt.Errorf("push %s: %w", branch, err)
	outcome.Message = "commit kept locally; publishing failed"
	log.Error().Err(err).Str("branch", branch).Msg("Publishing failed")
	c.transcript().LogError("publish "+branch, err)
	return outcome
}

func (c *Controller) transition(outcome *models.Outcome, to models.State, note string) {
	from := outcome.State
	outcome.State = to
	outcome.Message = note
	log.Info().Str("from", string(from)).Str("to", string(to)).Msg(note)
	c.transcript().Log("state %s -> %s: %s", from, to, note)
}
