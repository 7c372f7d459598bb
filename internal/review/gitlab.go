package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// GitLab opens merge requests through the GitLab REST API
type GitLab struct {
	client  *gitlab.Client
	project string
}

// NewGitLab creates a GitLab requester. URL is the instance root, e.g. https://gitlab.com.
func NewGitLab(config ProviderConfig) (*GitLab, error) {
	if config.Token == "" {
		return nil, errors.New("gitlab review provider requires a token")
	}
	if config.Project == "" {
		return nil, errors.New("gitlab review provider requires a project")
	}

	var opts []gitlab.ClientOptionFunc
	if config.URL != "" {
		opts = append(opts, gitlab.WithBaseURL(fmt.Sprintf("%s/api/v4", strings.TrimRight(config.URL, "/"))))
	}

	client, err := gitlab.NewClient(config.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	log.Debug().Str("url", config.URL).Str("project", config.Project).Msg("Initialized GitLab client")
	return &GitLab{client: client, project: config.Project}, nil
}

// Open implements Requester
func (g *GitLab) Open(ctx context.Context, req Request) (string, error) {
	mr, _, err := g.client.MergeRequests.CreateMergeRequest(g.project, &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(req.Title),
		Description:  gitlab.Ptr(req.Body),
		SourceBranch: gitlab.Ptr(req.Source),
		TargetBranch: gitlab.Ptr(req.Target),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to create merge request: %w", err)
	}

	log.Info().Str("url", mr.WebURL).Str("branch", req.Source).Msg("Merge request opened")
	return mr.WebURL, nil
}
