package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/guardedit/internal/audit"
	"github.com/guardedit/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
	Provider string            // AI provider being checked
}

// loadDotEnv loads ./.env without overriding variables already set
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Could not load .env")
	}
}

// CheckRequiredConfig reports the credentials a run with cfg needs
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
		Provider: cfg.AI.Provider,
	}

	if name := config.CredentialEnv(cfg.AI.Provider); name != "" {
		if cfg.AI.APIKey == "" {
			result.Missing = append(result.Missing, name)
		} else {
			result.Present["ai.api_key"] = maskSecret(cfg.AI.APIKey)
		}
	}

	switch cfg.Review.Provider {
	case "gitlab":
		if cfg.Review.GitLabToken == "" {
			result.Missing = append(result.Missing, "GITLAB_TOKEN")
		} else {
			result.Present["review.gitlab_token"] = maskSecret(cfg.Review.GitLabToken)
		}
		if cfg.Review.GitLabProject == "" {
			result.Missing = append(result.Missing, "review.gitlab_project")
		}
	case "github", "":
		if _, err := exec.LookPath("gh"); err != nil {
			result.Warnings = append(result.Warnings, "gh CLI not found; review requests will have to be opened manually")
		}
	}

	if dsn := audit.ResolveDSN(cfg.Audit.DSN); dsn != "" {
		result.Present["audit.dsn"] = maskSecret(dsn)
	} else {
		result.Warnings = append(result.Warnings, "no audit database configured; runs are recorded in the log only")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(w io.Writer, result *ConfigCheckResult) {
	fmt.Fprintln(w, "=== Configuration Check ===")
	fmt.Fprintf(w, "AI provider: %s\n", result.Provider)
	fmt.Fprintln(w, "")

	if len(result.Missing) > 0 {
		fmt.Fprintln(w, "❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Fprintf(w, "   - %s\n", v)
		}
		fmt.Fprintln(w, "")
	}

	if len(result.Present) > 0 {
		fmt.Fprintln(w, "✓ Configured settings:")
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
		}
		fmt.Fprintln(w, "")
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ Warning: %s\n", warning)
	}

	if len(result.Missing) == 0 {
		fmt.Fprintln(w, "✓ All required configuration is present")
	}

	fmt.Fprintln(w, "============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
