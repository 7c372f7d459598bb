package rewrite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/guardedit/internal/ai"
	"github.com/guardedit/internal/logging"
	"github.com/guardedit/pkg/models"
)

// ErrEmptyOutput is returned when the oracle answers with nothing but whitespace
var ErrEmptyOutput = errors.New("rewrite oracle returned empty content")

// Status is the per-file outcome of a rewrite
type Status string

const (
	StatusWritten   Status = "written"
	StatusUnchanged Status = "unchanged"
	StatusFailed    Status = "failed"
)

// Result describes what happened to one candidate file
type Result struct {
	File     models.CandidateFile
	Status   Status
	Err      error
	Duration time.Duration
}

// Touched reports whether the file content on disk was replaced
func (r Result) Touched() bool {
	return r.Status == StatusWritten
}

// Options control how rewrites are applied
type Options struct {
	Concurrency int
	AllowEmpty  bool
	Timeout     time.Duration // per file; zero means none
}

// Applier replaces candidate files with the oracle's rewrite
type Applier struct {
	rewriter ai.Rewriter
	opts     Options
	logger   *logging.RunLogger
}

// NewApplier creates an applier around a rewrite oracle
func NewApplier(rewriter ai.Rewriter, opts Options, logger *logging.RunLogger) *Applier {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Applier{rewriter: rewriter, opts: opts, logger: logger}
}

// Apply rewrites every candidate. A failure on one file never stops the
// others; results are returned in candidate order.
func (a *Applier) Apply(ctx context.Context, candidates []models.CandidateFile, objective string) []Result {
	results := make([]Result, len(candidates))
	var written atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			results[i] = a.applyOne(gctx, c, objective)
			if results[i].Touched() {
				written.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info().
		Int("candidates", len(candidates)).
		Int32("written", written.Load()).
		Msg("Rewrite pass finished")
	return results
}

// transcript falls back to the active run logger
func (a *Applier) transcript() *logging.RunLogger {
	if a.logger != nil {
		return a.logger
	}
	return logging.GetCurrentLogger()
}

func (a *Applier) applyOne(ctx context.Context, file models.CandidateFile, objective string) Result {
	start := time.Now()
	result := Result{File: file}

	fail := func(err error) Result {
		result.Status = StatusFailed
		result.Err = err
		result.Duration = time.Since(start)
		log.Warn().Err(err).Str("file", file.RelPath).Msg("Rewrite failed, file left untouched")
		a.transcript().LogError(fmt.Sprintf("rewrite %s", file.RelPath), err)
		return result
	}

	info, err := os.Stat(file.Path)
	if err != nil {
		return fail(fmt.Errorf("stat %s: %w", file.RelPath, err))
	}
	original, err := os.ReadFile(file.Path)
	if err != nil {
		return fail(fmt.Errorf("read %s: %w", file.RelPath, err))
	}

	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	output, err := a.rewriter.Rewrite(ctx, models.RewriteRequest{
		Path:      file.RelPath,
		Content:   string(original),
		Objective: objective,
	})
	if err != nil {
		return fail(err)
	}
	if strings.TrimSpace(output) == "" && !a.opts.AllowEmpty {
		return fail(ErrEmptyOutput)
	}

	if output == string(original) {
		result.Status = StatusUnchanged
		result.Duration = time.Since(start)
		log.Debug().Str("file", file.RelPath).Msg("Rewrite produced identical content")
		return result
	}

	if err := writeFile(file.Path, []byte(output), info.Mode().Perm()); err != nil {
		return fail(err)
	}

	result.Status = StatusWritten
	result.Duration = time.Since(start)
	a.transcript().Log("rewrote %s (%d -> %d bytes) in %s", file.RelPath, len(original), len(output), result.Duration)
	return result
}

// writeFile replaces the file through a temporary sibling so a failed write
// never leaves a truncated file behind
func writeFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".guardedit-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// TouchedPaths returns the root-relative paths of the files that were written
func TouchedPaths(results []Result) []string {
	var paths []string
	for _, r := range results {
		if r.Touched() {
			paths = append(paths, r.File.RelPath)
		}
	}
	return paths
}

// Failures returns the results that ended in an error
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Status == StatusFailed {
			failed = append(failed, r)
		}
	}
	return failed
}
