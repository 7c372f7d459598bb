package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardedit/internal/review"
	"github.com/guardedit/internal/vcs"
	"github.com/guardedit/internal/vcs/vcstest"
	"github.com/guardedit/pkg/models"
)

var fixedNow = time.Unix(1700000000, 0)

type fakeRequester struct {
	requests []review.Request
	ref      string
	err      error
}

func (f *fakeRequester) Open(ctx context.Context, req review.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.ref, f.err
}

// newRepo returns a fake repository with one pending edit unless clean is set
func newRepo(t *testing.T, clean bool) *vcstest.FakeRepo {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "README.md")
	require.NoError(t, os.WriteFile(path, []byte("helo\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "other.md"), []byte("x\n"), 0644))

	repo, err := vcstest.NewFakeRepo(root)
	require.NoError(t, err)
	if !clean {
		require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))
	}
	return repo
}

func baseOptions(mode models.Mode, push bool) Options {
	return Options{
		Mode:         mode,
		Objective:    "fix typos",
		TargetBranch: "main",
		Push:         push,
		OpenReview:   true,
		Touched:      []string{"README.md"},
	}
}

func allow() models.GateResult { return models.GateResult{Verdict: models.VerdictAllow} }

func TestCommitMessage(t *testing.T) {
	assert.Equal(t, "chore(ai-edit): fix typos [skip ci] [guarded]", CommitMessage("", "fix typos", models.ModeGuarded))
	assert.Equal(t, "docs: fix typos [skip ci]", CommitMessage("docs", " fix typos ", models.ModeDirect))
}

func TestBuildPlan(t *testing.T) {
	escalatedBySize := models.GateResult{Verdict: models.VerdictEscalate, HeuristicEscalated: true}

	tests := []struct {
		name         string
		gate         models.GateResult
		mode         models.Mode
		push         bool
		direct       bool
		commitBranch string
		reviewBranch string
	}{
		{"direct allow push", allow(), models.ModeDirect, true, true, "main", ""},
		{"direct allow no push", allow(), models.ModeDirect, false, true, "main", ""},
		{"direct escalated push", escalatedBySize, models.ModeDirect, true, false, "ai-edit/auto-1700000000", "ai-edit/auto-1700000000"},
		{"guarded allow push", allow(), models.ModeGuarded, true, false, "ai-edit/auto-1700000000", "ai-edit/auto-1700000000"},
		{"guarded allow no push", allow(), models.ModeGuarded, false, false, "ai-edit/auto-1700000000", ""},
		{"guarded reject push", models.GateResult{Verdict: models.VerdictReject}, models.ModeGuarded, true, false, "ai-edit/auto-rejected-1700000000", ""},
		{"direct reject", models.GateResult{Verdict: models.VerdictReject}, models.ModeDirect, true, false, "ai-edit/auto-rejected-1700000000", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := BuildPlan(tt.gate, baseOptions(tt.mode, tt.push), fixedNow)
			assert.Equal(t, tt.direct, plan.Direct)
			assert.Equal(t, tt.commitBranch, plan.CommitBranch)
			assert.Equal(t, tt.reviewBranch, plan.ReviewBranch)
			assert.Equal(t, "main", plan.TargetBranch)
			if tt.gate.Verdict == models.VerdictReject {
				assert.False(t, plan.Push)
				assert.False(t, plan.OpenReview)
			}
		})
	}
}

func TestPublishNoChanges(t *testing.T) {
	repo := newRepo(t, true)
	c := NewController(repo, nil, WithClock(func() time.Time { return fixedNow }))

	outcome, err := c.Publish(context.Background(), allow(), baseOptions(models.ModeDirect, true))
	require.NoError(t, err)
	assert.Equal(t, models.StateNoChanges, outcome.State)
	assert.Empty(t, repo.Commits)
	assert.Empty(t, repo.Pushes)
}

func TestPublishDirect(t *testing.T) {
	repo := newRepo(t, false)
	c := NewController(repo, nil, WithClock(func() time.Time { return fixedNow }))

	outcome, err := c.Publish(context.Background(), allow(), baseOptions(models.ModeDirect, true))
	require.NoError(t, err)
	assert.Equal(t, models.StatePublishedDirect, outcome.State)
	assert.Equal(t, []vcstest.Push{{Branch: "main", Upstream: false}}, repo.Pushes)

	require.Len(t, repo.Commits, 1)
	commit := repo.Commits[0]
	assert.Equal(t, "chore(ai-edit): fix typos [skip ci]", commit.Message)
	assert.Equal(t, DefaultAuthor, commit.Author)
	assert.Equal(t, "main", commit.Branch)
	assert.Equal(t, []string{"README.md"}, commit.Files)
}

func TestPublishCommittedWithoutPush(t *testing.T) {
	repo := newRepo(t, false)
	c := NewController(repo, nil)

	outcome, err := c.Publish(context.Background(), allow(), baseOptions(models.ModeGuarded, false))
	require.NoError(t, err)
	assert.Equal(t, models.StateCommitted, outcome.State)
	assert.Empty(t, repo.Pushes)

	require.Len(t, repo.Commits, 1)
	assert.NotEqual(t, "main", repo.Commits[0].Branch, "guarded commits stay off the target branch")
	assert.Equal(t, repo.Commits[0].Branch, outcome.Branch)
	assert.Equal(t, "main", repo.Branch)
}

func TestPublishForReview(t *testing.T) {
	repo := newRepo(t, false)
	requester := &fakeRequester{ref: "https://github.com/acme/web/pull/3"}
	c := NewController(repo, requester, WithClock(func() time.Time { return fixedNow }))

	gate := models.GateResult{Verdict: models.VerdictEscalate, Reasons: []string{"classifier answered ESCALATE"}}
	outcome, err := c.Publish(context.Background(), gate, baseOptions(models.ModeGuarded, true))
	require.NoError(t, err)

	assert.Equal(t, models.StatePublishedForReview, outcome.State)
	assert.Equal(t, "ai-edit/auto-1700000000", outcome.Branch)
	assert.Equal(t, "https://github.com/acme/web/pull/3", outcome.ReviewURL)
	assert.False(t, outcome.ManualReview)
	assert.Equal(t, []vcstest.Push{{Branch: "ai-edit/auto-1700000000", Upstream: true}}, repo.Pushes)
	assert.Contains(t, repo.Branches, "ai-edit/auto-1700000000")

	require.Len(t, repo.Commits, 1)
	assert.Equal(t, "chore(ai-edit): fix typos [skip ci] [guarded]", repo.Commits[0].Message)
	assert.Equal(t, "ai-edit/auto-1700000000", repo.Commits[0].Branch)
	assert.Equal(t, "main", repo.Branch, "target branch is checked back out")

	require.Len(t, requester.requests, 1)
	req := requester.requests[0]
	assert.Equal(t, "ai-edit/auto-1700000000", req.Source)
	assert.Equal(t, "main", req.Target)
	assert.Equal(t, "AI edit: fix typos", req.Title)
	assert.Contains(t, req.Body, "classifier answered ESCALATE")
}

func TestPublishReviewToolMissing(t *testing.T) {
	repo := newRepo(t, false)
	requester := &fakeRequester{err: fmt.Errorf("%w: gh CLI not found", review.ErrUnavailable)}
	c := NewController(repo, requester, WithClock(func() time.Time { return fixedNow }))

	outcome, err := c.Publish(context.Background(), allow(), baseOptions(models.ModeGuarded, true))
	require.NoError(t, err)
	assert.Equal(t, models.StatePublishedForReview, outcome.State)
	assert.True(t, outcome.ManualReview)
	assert.NoError(t, outcome.PublishErr)
	assert.Contains(t, outcome.Message, "manually")
}

func TestPublishReviewNotRequested(t *testing.T) {
	repo := newRepo(t, false)
	requester := &fakeRequester{}
	c := NewController(repo, requester, WithClock(func() time.Time { return fixedNow }))

	opts := baseOptions(models.ModeGuarded, true)
	opts.OpenReview = false
	outcome, err := c.Publish(context.Background(), allow(), opts)
	require.NoError(t, err)
	assert.Equal(t, models.StatePublishedForReview, outcome.State)
	assert.True(t, outcome.ManualReview)
	assert.Empty(t, requester.requests)
}

func TestPublishRejectNeverPushes(t *testing.T) {
	for _, mode := range []models.Mode{models.ModeGuarded, models.ModeDirect} {
		for _, push := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s push=%v", mode, push), func(t *testing.T) {
				repo := newRepo(t, false)
				requester := &fakeRequester{}
				c := NewController(repo, requester, WithClock(func() time.Time { return fixedNow }))

				opts := baseOptions(mode, push)
				outcome, err := c.Publish(context.Background(), models.GateResult{Verdict: models.VerdictReject}, opts)
				require.NoError(t, err)

				assert.Equal(t, models.StateAborted, outcome.State)
				assert.Empty(t, repo.Pushes)
				assert.Empty(t, requester.requests)

				require.Len(t, repo.Commits, 1, "local commit is kept")
				assert.Equal(t, "ai-edit/auto-rejected-1700000000", repo.Commits[0].Branch)
				assert.Equal(t, "ai-edit/auto-rejected-1700000000", outcome.Branch)
				assert.Equal(t, []string{"main", "ai-edit/auto-rejected-1700000000"}, repo.Branches)
				assert.Equal(t, "main", repo.Branch, "target branch is checked back out")
			})
		}
	}
}

func TestPublishPushRejected(t *testing.T) {
	repo := newRepo(t, false)
	repo.PushErr = errors.New("! [rejected] main -> main (fetch first)")
	c := NewController(repo, nil, WithClock(func() time.Time { return fixedNow }))

	outcome, err := c.Publish(context.Background(), allow(), baseOptions(models.ModeDirect, true))
	require.NoError(t, err)
	assert.Equal(t, models.StateCommitted, outcome.State)
	require.Error(t, outcome.PublishErr)
	assert.Contains(t, outcome.PublishErr.Error(), "rejected")
}

func TestPublishStageTouchedOnly(t *testing.T) {
	for _, scope := range []string{"", StageTouched} {
		t.Run("scope="+scope, func(t *testing.T) {
			repo := newRepo(t, false)
			require.NoError(t, os.WriteFile(filepath.Join(repo.Root(), "other.md"), []byte("changed elsewhere\n"), 0644))
			c := NewController(repo, nil)

			opts := baseOptions(models.ModeDirect, false)
			opts.StageScope = scope
			_, err := c.Publish(context.Background(), allow(), opts)
			require.NoError(t, err)

			require.Len(t, repo.Commits, 1)
			assert.Equal(t, []string{"README.md"}, repo.Commits[0].Files, "files the gate never saw stay unstaged")
		})
	}
}

func TestPublishStageAll(t *testing.T) {
	repo := newRepo(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(repo.Root(), "other.md"), []byte("changed elsewhere\n"), 0644))
	c := NewController(repo, nil)

	opts := baseOptions(models.ModeDirect, false)
	opts.StageScope = StageAll
	_, err := c.Publish(context.Background(), allow(), opts)
	require.NoError(t, err)

	require.Len(t, repo.Commits, 1)
	assert.Equal(t, []string{"README.md", "other.md"}, repo.Commits[0].Files)
}

func TestPublishCheckoutFailureIsReported(t *testing.T) {
	repo := newRepo(t, false)
	repo.CheckoutErr = errors.New("local changes would be overwritten")
	c := NewController(repo, nil, WithClock(func() time.Time { return fixedNow }))

	outcome, err := c.Publish(context.Background(), models.GateResult{Verdict: models.VerdictReject}, baseOptions(models.ModeGuarded, true))
	require.NoError(t, err)
	assert.Equal(t, models.StateAborted, outcome.State)
	assert.Contains(t, repo.Calls, "checkout main")
}

type brokenCommitRepo struct {
	*vcstest.FakeRepo
}

func (r brokenCommitRepo) Commit(ctx context.Context, message string, author vcs.Identity) error {
	return errors.New("hook failed")
}

func TestPublishCommitFailure(t *testing.T) {
	repo := brokenCommitRepo{newRepo(t, false)}
	c := NewController(repo, nil)

	outcome, err := c.Publish(context.Background(), allow(), baseOptions(models.ModeDirect, true))
	require.ErrorIs(t, err, ErrPublish)
	assert.Equal(t, models.StateStagedLocal, outcome.State)
	assert.Empty(t, repo.Pushes)
}
