package diff

import (
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// ParsedFile is the per-file view of a unified diff
type ParsedFile struct {
	Path         string
	IsBinary     bool
	AddedLines   []string
	DeletedLines int
}

// Parse reads a unified diff and returns the files it touches, in diff order.
// Added lines are returned without their "+" prefix or trailing newline.
func Parse(raw string) ([]ParsedFile, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	files, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	parsed := make([]ParsedFile, 0, len(files))
	for _, f := range files {
		pf := ParsedFile{Path: f.NewName, IsBinary: f.IsBinary}
		if f.IsDelete || pf.Path == "" {
			pf.Path = f.OldName
		}

		for _, frag := range f.TextFragments {
			for _, line := range frag.Lines {
				switch line.Op {
				case gitdiff.OpAdd:
					pf.AddedLines = append(pf.AddedLines, strings.TrimRight(line.Line, "\r\n"))
				case gitdiff.OpDelete:
					pf.DeletedLines++
				}
			}
		}
		parsed = append(parsed, pf)
	}
	return parsed, nil
}
