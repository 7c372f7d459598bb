package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardedit/pkg/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardedit.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
	path := writeConfig(t, "")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "guarded", cfg.General.Mode)
	assert.Equal(t, "main", cfg.General.Branch)
	assert.Equal(t, 5, cfg.General.MaxFiles)
	assert.Equal(t, int64(200_000), cfg.Targets.MaxFileSize)
	assert.Contains(t, cfg.Targets.AllowedExtensions, ".tsx")
	assert.Contains(t, cfg.Targets.ExcludedDirs, "node_modules")
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Rewrite)
	assert.Equal(t, "sk-test-key", cfg.AI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.ClassifierModel)
	assert.Equal(t, "touched", cfg.Git.StageScope)
	require.NoError(t, Validate(cfg))

	mode, err := cfg.RunMode()
	require.NoError(t, err)
	assert.Equal(t, models.ModeGuarded, mode)
}

func TestLoadConfigLayering(t *testing.T) {
	path := writeConfig(t, `
[general]
mode = "direct"
branch = "develop"
max_files = 3

[ai]
provider = "ollama"
model = "llama3"

[timeouts]
classify = "15s"
`)
	t.Setenv("GUARDEDIT_GENERAL_MAX_FILES", "7")
	t.Setenv("GUARDEDIT_GIT_COMMIT_PREFIX", "docs(bot)")

	cfg, err := LoadConfig(path, map[string]interface{}{
		"general.branch": "release",
	})
	require.NoError(t, err)

	assert.Equal(t, "direct", cfg.General.Mode)
	assert.Equal(t, "release", cfg.General.Branch, "explicit override wins")
	assert.Equal(t, 7, cfg.General.MaxFiles, "environment wins over file")
	assert.Equal(t, "docs(bot)", cfg.Git.CommitPrefix)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.Classify)
	require.NoError(t, Validate(cfg), "ollama needs no api key")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, "")

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing credential",
			mutate:  func(c *Config) {},
			wantErr: "api_key is required",
		},
		{
			name: "unknown mode",
			mutate: func(c *Config) {
				c.AI.APIKey = "k"
				c.General.Mode = "yolo"
			},
			wantErr: "unknown mode",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.AI.Provider = "mystery"
			},
			wantErr: "unsupported ai provider",
		},
		{
			name: "gitlab without project",
			mutate: func(c *Config) {
				c.AI.APIKey = "k"
				c.Review.Provider = "gitlab"
				c.Review.GitLabURL = "https://gitlab.example.com"
				c.Review.GitLabToken = "glpat"
			},
			wantErr: "gitlab project is required",
		},
		{
			name: "bad stage scope",
			mutate: func(c *Config) {
				c.AI.APIKey = "k"
				c.Git.StageScope = "some"
			},
			wantErr: "stage_scope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(path, nil)
			require.NoError(t, err)
			tt.mutate(cfg)

			err = Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardedit.toml")
	require.NoError(t, InitConfig(path))

	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	err = InitConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
