// Package vcstest provides an in-memory vcs.Repository over a real directory.
package vcstest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/guardedit/internal/vcs"
)

// Commit is a commit recorded by FakeRepo
type Commit struct {
	Branch  string
	Message string
	Author  vcs.Identity
	Files   []string
}

// Push is a push recorded by FakeRepo
type Push struct {
	Branch   string
	Upstream bool
}

// FakeRepo treats the files present at construction time as HEAD and
// diffs the directory against that snapshot.
type FakeRepo struct {
	mu       sync.Mutex
	root     string
	baseline map[string]string
	staged   map[string]string

	Branch   string
	Branches []string
	Commits  []Commit
	Pushes   []Push
	Calls    []string

	VerifyErr   error
	SyncErr     error
	PushErr     error
	CheckoutErr error
}

// NewFakeRepo snapshots root as the committed state on branch main
func NewFakeRepo(root string) (*FakeRepo, error) {
	r := &FakeRepo{root: root, Branch: "main", Branches: []string{"main"}}
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	r.baseline = snap
	return r, nil
}

func (r *FakeRepo) record(call string) {
	r.Calls = append(r.Calls, call)
}

// Root implements vcs.Repository
func (r *FakeRepo) Root() string { return r.root }

// Verify implements vcs.Repository
func (r *FakeRepo) Verify(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("verify")
	return r.VerifyErr
}

// Sync implements vcs.Repository
func (r *FakeRepo) Sync(ctx context.Context, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("sync " + branch)
	if r.SyncErr != nil {
		return r.SyncErr
	}
	r.Branch = branch
	return nil
}

// Diff implements vcs.Repository
func (r *FakeRepo) Diff(ctx context.Context, paths []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("diff")

	var b strings.Builder
	for _, p := range paths {
		oldText, newText, changed, err := r.compare(p)
		if err != nil {
			return "", err
		}
		if changed {
			b.WriteString(UnifiedDiff(p, oldText, newText))
		}
	}
	return b.String(), nil
}

// NumStat implements vcs.Repository
func (r *FakeRepo) NumStat(ctx context.Context, paths []string) ([]vcs.NumStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("numstat")

	var rows []vcs.NumStat
	for _, p := range paths {
		oldText, newText, changed, err := r.compare(p)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		ins, del := countChanges(splitLines(oldText), splitLines(newText))
		rows = append(rows, vcs.NumStat{Path: p, Inserted: ins, Deleted: del})
	}
	return rows, nil
}

// StageAll implements vcs.Repository
func (r *FakeRepo) StageAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("stage-all")

	snap, err := r.snapshot()
	if err != nil {
		return err
	}
	r.staged = map[string]string{}
	for p, content := range snap {
		if old, ok := r.baseline[p]; !ok || old != content {
			r.staged[p] = content
		}
	}
	return nil
}

// StagePaths implements vcs.Repository
func (r *FakeRepo) StagePaths(ctx context.Context, paths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("stage " + strings.Join(paths, ","))

	if r.staged == nil {
		r.staged = map[string]string{}
	}
	for _, p := range paths {
		_, newText, changed, err := r.compare(p)
		if err != nil {
			return err
		}
		if changed {
			r.staged[p] = newText
		}
	}
	return nil
}

// HasStagedChanges implements vcs.Repository
func (r *FakeRepo) HasStagedChanges(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("has-staged")
	return len(r.staged) > 0, nil
}

// Commit implements vcs.Repository
func (r *FakeRepo) Commit(ctx context.Context, message string, author vcs.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("commit")

	if len(r.staged) == 0 {
		return errors.New("nothing to commit")
	}
	files := make([]string, 0, len(r.staged))
	for p, content := range r.staged {
		r.baseline[p] = content
		files = append(files, p)
	}
	sort.Strings(files)
	r.Commits = append(r.Commits, Commit{Branch: r.Branch, Message: message, Author: author, Files: files})
	r.staged = nil
	return nil
}

// CreateBranch implements vcs.Repository
func (r *FakeRepo) CreateBranch(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("branch " + name)

	for _, b := range r.Branches {
		if b == name {
			return fmt.Errorf("branch %s already exists", name)
		}
	}
	r.Branches = append(r.Branches, name)
	r.Branch = name
	return nil
}

// Checkout implements vcs.Repository
func (r *FakeRepo) Checkout(ctx context.Context, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("checkout " + branch)

	if r.CheckoutErr != nil {
		return r.CheckoutErr
	}
	for _, b := range r.Branches {
		if b == branch {
			r.Branch = branch
			return nil
		}
	}
	return fmt.Errorf("pathspec '%s' did not match any branch", branch)
}

// Push implements vcs.Repository
func (r *FakeRepo) Push(ctx context.Context, branch string, setUpstream bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("push " + branch)

	if r.PushErr != nil {
		return r.PushErr
	}
	r.Pushes = append(r.Pushes, Push{Branch: branch, Upstream: setUpstream})
	return nil
}

// compare returns the committed and current text of a root-relative path
func (r *FakeRepo) compare(rel string) (string, string, bool, error) {
	oldText, tracked := r.baseline[rel]
	if !tracked {
		return "", "", false, nil
	}
	data, err := os.ReadFile(filepath.Join(r.root, filepath.FromSlash(rel)))
	if err != nil {
		return "", "", false, err
	}
	return oldText, string(data), string(data) != oldText, nil
}

func (r *FakeRepo) snapshot() (map[string]string, error) {
	snap := map[string]string{}
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return err
		}
		snap[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	return snap, err
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type op struct {
	kind byte // ' ', '-', '+'
	line string
}

// lineDiff is a plain LCS diff, fine for test-sized inputs
func lineDiff(a, b []string) []op {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []op
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, op{' ', a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, op{'-', a[i]})
			i++
		default:
			ops = append(ops, op{'+', b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, op{'-', a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, op{'+', b[j]})
	}
	return ops
}

func countChanges(a, b []string) (ins, del int) {
	for _, o := range lineDiff(a, b) {
		switch o.kind {
		case '+':
			ins++
		case '-':
			del++
		}
	}
	return ins, del
}

// UnifiedDiff renders a single-hunk git-style diff with full context
func UnifiedDiff(path, oldText, newText string) string {
	a, b := splitLines(oldText), splitLines(newText)

	var body strings.Builder
	for _, o := range lineDiff(a, b) {
		line := o.line
		body.WriteByte(o.kind)
		body.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			body.WriteString("\n\\ No newline at end of file\n")
		}
	}

	oldStart, newStart := 1, 1
	if len(a) == 0 {
		oldStart = 0
	}
	if len(b) == 0 {
		newStart = 0
	}

	var out strings.Builder
	fmt.Fprintf(&out, "diff --git a/%s b/%s\n", path, path)
	fmt.Fprintf(&out, "--- a/%s\n+++ b/%s\n", path, path)
	fmt.Fprintf(&out, "@@ -%d,%d +%d,%d @@\n", oldStart, len(a), newStart, len(b))
	out.WriteString(body.String())
	return out.String()
}
