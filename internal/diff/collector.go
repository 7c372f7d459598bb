package diff

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/guardedit/internal/vcs"
	"github.com/guardedit/pkg/models"
)

// Collector extracts the change set of the touched files from the working tree
type Collector struct {
	repo vcs.Repository
}

// NewCollector creates a collector bound to a repository handle
func NewCollector(repo vcs.Repository) *Collector {
	return &Collector{repo: repo}
}

// Collect returns the diff text and counters for the touched paths. Both come
// from the same working tree state: the caller must not write in between.
// An empty touched set yields an empty ChangeSet without calling git.
func (c *Collector) Collect(ctx context.Context, touched []string) (*models.ChangeSet, error) {
	cs := &models.ChangeSet{}
	if len(touched) == 0 {
		return cs, nil
	}

	text, err := c.repo.Diff(ctx, touched)
	if err != nil {
		return nil, fmt.Errorf("failed to compute diff: %w", err)
	}
	stats, err := c.repo.NumStat(ctx, touched)
	if err != nil {
		return nil, fmt.Errorf("failed to compute diff summary: %w", err)
	}
	cs.Diff = text

	parsed, err := Parse(text)
	if err != nil {
		// Added lines only feed the content scanners; counters still come from numstat.
		log.Warn().Err(err).Msg("Could not parse diff text, scanners will see no added lines")
	}
	added := make(map[string][]string, len(parsed))
	for _, pf := range parsed {
		added[pf.Path] = pf.AddedLines
	}

	for _, s := range stats {
		cs.Inserted += s.Inserted
		cs.Deleted += s.Deleted
		cs.Files = append(cs.Files, models.FileChange{
			Path:       s.Path,
			Inserted:   s.Inserted,
			Deleted:    s.Deleted,
			Binary:     s.Binary,
			AddedLines: added[s.Path],
		})
	}

	log.Debug().
		Int("files", len(cs.Files)).
		Int("inserted", cs.Inserted).
		Int("deleted", cs.Deleted).
		Msg("Collected change set")
	return cs, nil
}
