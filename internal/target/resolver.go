package target

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/guardedit/pkg/models"
)

// DefaultMaxFiles is used when a non-positive cap is requested
const DefaultMaxFiles = 5

var (
	// ErrPathNotFound is returned when the target is neither a file nor a directory
	ErrPathNotFound = errors.New("target path not found")
	// ErrOutsideRoot is returned when the target escapes the repository root
	ErrOutsideRoot = errors.New("target path is outside the repository")
)

// Options configures eligibility
type Options struct {
	AllowedExtensions []string
	ExcludedDirs      []string
	MaxFileSize       int64
}

// Resolver enumerates and filters candidate files. It never writes.
type Resolver struct {
	allowed     map[string]struct{}
	excluded    map[string]struct{}
	maxFileSize int64
}

// NewResolver creates a resolver from the eligibility options
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		allowed:     make(map[string]struct{}, len(opts.AllowedExtensions)),
		excluded:    make(map[string]struct{}, len(opts.ExcludedDirs)),
		maxFileSize: opts.MaxFileSize,
	}
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.allowed[ext] = struct{}{}
	}
	for _, dir := range opts.ExcludedDirs {
		r.excluded[strings.TrimSpace(dir)] = struct{}{}
	}
	return r
}

// Resolve returns the eligible files for path (relative to root, "" meaning
// the root itself) in lexical traversal order, stopping at maxFiles.
func (r *Resolver) Resolve(root, path string, maxFiles int) ([]models.CandidateFile, error) {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository root: %w", err)
	}

	path = strings.TrimSpace(path)
	if path == "" {
		path = "."
	}
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(absRoot, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, target)
	}

	switch {
	case info.Mode().IsRegular():
		if r.excludedRel(rel) {
			return nil, nil
		}
		if c, ok := r.eligible(absRoot, target, info); ok {
			return []models.CandidateFile{c}, nil
		}
		return nil, nil
	case info.IsDir():
		if rel != "." && r.excludedRel(rel) {
			return nil, nil
		}
		return r.walk(absRoot, target, maxFiles)
	default:
		return nil, fmt.Errorf("%w: %s is not a regular file or directory", ErrPathNotFound, target)
	}
}

func (r *Resolver) walk(root, dir string, maxFiles int) ([]models.CandidateFile, error) {
	var files []models.CandidateFile

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped like any other ineligible file
			log.Debug().Err(err).Str("path", p).Msg("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if p != dir && r.isExcludedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if c, ok := r.eligible(root, p, info); ok {
			files = append(files, c)
			if len(files) >= maxFiles {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	return files, nil
}

// eligible applies the extension, size and UTF-8 checks
func (r *Resolver) eligible(root, path string, info fs.FileInfo) (models.CandidateFile, bool) {
	if !info.Mode().IsRegular() {
		return models.CandidateFile{}, false
	}

	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := r.allowed[ext]; !ok {
		return models.CandidateFile{}, false
	}

	if r.maxFileSize > 0 && info.Size() > r.maxFileSize {
		return models.CandidateFile{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil || !utf8.Valid(data) {
		return models.CandidateFile{}, false
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return models.CandidateFile{}, false
	}

	return models.CandidateFile{
		Path:    path,
		RelPath: filepath.ToSlash(rel),
		Size:    info.Size(),
		Ext:     ext,
	}, true
}

func (r *Resolver) isExcludedDir(name string) bool {
	_, ok := r.excluded[name]
	return ok
}

// excludedRel reports whether any directory segment of a root-relative path is excluded
func (r *Resolver) excludedRel(rel string) bool {
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for _, seg := range segments {
		if r.isExcludedDir(seg) {
			return true
		}
	}
	return false
}
