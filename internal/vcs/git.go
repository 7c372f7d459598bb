package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotRepository is returned when the directory is not inside a git work tree
var ErrNotRepository = errors.New("not inside a git repository")

// Identity is the author recorded on commits
type Identity struct {
	Name  string
	Email string
}

// NumStat is one row of `git diff --numstat`
type NumStat struct {
	Path     string
	Inserted int
	Deleted  int
	Binary   bool
}

// Repository is the working tree handle passed through the pipeline.
// Every operation is scoped to Root(); nothing relies on the process cwd.
type Repository interface {
	Root() string
	Verify(ctx context.Context) error
	Sync(ctx context.Context, branch string) error
	Diff(ctx context.Context, paths []string) (string, error)
	NumStat(ctx context.Context, paths []string) ([]NumStat, error)
	StageAll(ctx context.Context) error
	StagePaths(ctx context.Context, paths []string) error
	HasStagedChanges(ctx context.Context) (bool, error)
	Commit(ctx context.Context, message string, author Identity) error
	CreateBranch(ctx context.Context, name string) error
	Checkout(ctx context.Context, branch string) error
	Push(ctx context.Context, branch string, setUpstream bool) error
}

// Git implements Repository by running the git binary
type Git struct {
	root    string
	remote  string
	binary  string
	timeout time.Duration
}

// Option configures Git
type Option func(*Git)

// WithRemote sets the remote used by Sync and Push (default "origin")
func WithRemote(remote string) Option {
	return func(g *Git) {
		if remote != "" {
			g.remote = remote
		}
	}
}

// WithTimeout bounds every git invocation
func WithTimeout(d time.Duration) Option {
	return func(g *Git) { g.timeout = d }
}

// Open returns a handle for the work tree containing dir
func Open(ctx context.Context, dir string, opts ...Option) (*Git, error) {
	g := &Git{root: dir, remote: "origin", binary: "git"}
	for _, opt := range opts {
		opt(g)
	}

	top, err := g.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	g.root = strings.TrimSpace(top)
	return g, nil
}

// Root returns the top-level directory of the work tree
func (g *Git) Root() string {
	return g.root
}

// Verify checks that Root is still inside a work tree
func (g *Git) Verify(ctx context.Context) error {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return fmt.Errorf("%w: %s", ErrNotRepository, g.root)
	}
	return nil
}

// Sync fetches, checks out and fast-forwards branch. Fetch and pull failures
// are logged and tolerated; a failed checkout is returned.
func (g *Git) Sync(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, "fetch", g.remote, branch); err != nil {
		log.Warn().Err(err).Str("branch", branch).Msg("git fetch failed, continuing with local state")
	}
	if _, err := g.run(ctx, "checkout", branch); err != nil {
		return fmt.Errorf("failed to check out %s: %w", branch, err)
	}
	if _, err := g.run(ctx, "pull", "--ff-only", g.remote, branch); err != nil {
		log.Warn().Err(err).Str("branch", branch).Msg("git pull --ff-only failed, continuing with local state")
	}
	return nil
}

// Diff returns the unified diff of the given paths against the index
func (g *Git) Diff(ctx context.Context, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", nil
	}
	args := append([]string{"diff", "--no-color", "--no-ext-diff", "--"}, paths...)
	return g.run(ctx, args...)
}

// NumStat returns per-file insert/delete counters for the given paths
func (g *Git) NumStat(ctx context.Context, paths []string) ([]NumStat, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	args := append([]string{"diff", "--numstat", "--no-color", "--"}, paths...)
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseNumStat(out)
}

// ParseNumStat parses `git diff --numstat` output. Binary files report "-".
func ParseNumStat(out string) ([]NumStat, error) {
	var rows []NumStat
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("unexpected numstat line: %q", line)
		}

		row := NumStat{Path: parts[2]}
		if parts[0] == "-" && parts[1] == "-" {
			row.Binary = true
		} else {
			ins, err := strconv.Atoi(parts[0])
			if err != nil {
				return nil, fmt.Errorf("bad insert count in %q: %w", line, err)
			}
			del, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("bad delete count in %q: %w", line, err)
			}
			row.Inserted, row.Deleted = ins, del
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// StageAll stages every working tree modification
func (g *Git) StageAll(ctx context.Context) error {
	_, err := g.run(ctx, "add", "-A")
	return err
}

// StagePaths stages only the given paths
func (g *Git) StagePaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := g.run(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

// HasStagedChanges reports whether the index differs from HEAD
func (g *Git) HasStagedChanges(ctx context.Context) (bool, error) {
	_, err := g.run(ctx, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, err
}

// Commit records the index with the given author. The repository config is not touched.
func (g *Git) Commit(ctx context.Context, message string, author Identity) error {
	args := []string{}
	if author.Name != "" {
		args = append(args, "-c", "user.name="+author.Name)
	}
	if author.Email != "" {
		args = append(args, "-c", "user.email="+author.Email)
	}
	args = append(args, "commit", "--no-verify", "-m", message)
	_, err := g.run(ctx, args...)
	return err
}

// CreateBranch creates and checks out a new branch at HEAD
func (g *Git) CreateBranch(ctx context.Context, name string) error {
	_, err := g.run(ctx, "checkout", "-b", name)
	return err
}

// Checkout switches the work tree to an existing branch
func (g *Git) Checkout(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "checkout", branch)
	return err
}

// Push pushes branch to the remote
func (g *Git) Push(ctx context.Context, branch string, setUpstream bool) error {
	args := []string{"push"}
	if setUpstream {
		args = append(args, "-u")
	}
	args = append(args, g.remote, branch)
	_, err := g.run(ctx, args...)
	return err
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = g.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Strs("args", args).Str("dir", g.root).Msg("Running git")
	if err := cmd.Run(); err != nil {
		return stdout.String(), &CommandError{Args: args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.String(), nil
}

// CommandError carries the stderr of a failed git invocation
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("git %s failed: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s failed: %v\nstderr: %s", strings.Join(e.Args, " "), e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
