package review

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// CommandRunner executes an external command and returns its combined output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// GitHubCLI opens pull requests through the gh command line tool
type GitHubCLI struct {
	binary   string
	lookPath func(string) (string, error)
	run      CommandRunner
}

// NewGitHubCLI creates a requester that shells out to gh
func NewGitHubCLI() *GitHubCLI {
	return &GitHubCLI{binary: "gh", lookPath: exec.LookPath, run: execRunner}
}

// WithRunner replaces the command runner and binary lookup, for tests
func (g *GitHubCLI) WithRunner(lookPath func(string) (string, error), run CommandRunner) *GitHubCLI {
	g.lookPath = lookPath
	g.run = run
	return g
}

// Open implements Requester
func (g *GitHubCLI) Open(ctx context.Context, req Request) (string, error) {
	path, err := g.lookPath(g.binary)
	if err != nil {
		log.Debug().Err(err).Msg("gh CLI not found")
		return "", fmt.Errorf("%w: gh CLI not found", ErrUnavailable)
	}

	out, err := g.run(ctx, path, "pr", "create",
		"-B", req.Target,
		"-H", req.Source,
		"-t", req.Title,
		"-b", req.Body,
	)
	text := strings.TrimSpace(string(out))
	if err != nil {
		return "", fmt.Errorf("gh pr create failed: %w: %s", err, text)
	}

	// gh prints the pull request URL as the last line
	lines := strings.Split(text, "\n")
	ref := strings.TrimSpace(lines[len(lines)-1])
	log.Info().Str("url", ref).Str("branch", req.Source).Msg("Pull request opened")
	return ref, nil
}
