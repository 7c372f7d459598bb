package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/guardedit/internal/config"
	"github.com/guardedit/internal/logging"
	"github.com/guardedit/internal/pipeline"
	"github.com/guardedit/internal/publish"
	"github.com/guardedit/pkg/models"
)

// Process exit codes
const (
	ExitOK           = 0
	ExitPrecondition = 1
	ExitPublish      = 2
	ExitRejected     = 3
	ExitRuntime      = 4
)

// RunCommand returns the run command
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Rewrite files with the AI oracle, gate the diff and publish it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "path",
				Usage:   "File or directory to edit, relative to the repository root",
				EnvVars: []string{"GUARDEDIT_PATH"},
			},
			&cli.StringFlag{
				Name:     "prompt",
				Aliases:  []string{"p"},
				Usage:    "Natural-language objective for the edit",
				EnvVars:  []string{"GUARDEDIT_PROMPT"},
				Required: true,
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "guarded or direct",
			},
			&cli.IntFlag{
				Name:  "max-files",
				Usage: "Maximum number of files taken from a directory",
			},
			&cli.StringFlag{
				Name:  "branch",
				Usage: "Target branch",
			},
			&cli.BoolFlag{
				Name:  "push",
				Usage: "Push the commit (directly or on a review branch)",
			},
			&cli.BoolFlag{
				Name:  "open-pr",
				Usage: "Open a review request when a review branch is pushed",
			},
			&cli.StringFlag{
				Name:  "pr-branch-prefix",
				Usage: "Prefix for review branch names",
			},
			&cli.BoolFlag{
				Name:  "no-sync",
				Usage: "Skip fetch, checkout and pull of the target branch",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Number of files rewritten in parallel",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Override the AI provider",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Override the AI model",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the outcome as JSON",
			},
		},
		Action: runEdit,
	}
}

// flagOverrides maps every explicitly set flag to its configuration key
func flagOverrides(c *cli.Context) map[string]interface{} {
	overrides := make(map[string]interface{})

	stringFlags := map[string]string{
		"mode":             "general.mode",
		"branch":           "general.branch",
		"pr-branch-prefix": "general.branch_prefix",
		"provider":         "ai.provider",
		"model":            "ai.model",
		"log-level":        "logging.level",
		"log-format":       "logging.format",
	}
	for flag, key := range stringFlags {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}

	intFlags := map[string]string{
		"max-files":   "general.max_files",
		"concurrency": "rewrite.concurrency",
	}
	for flag, key := range intFlags {
		if c.IsSet(flag) {
			overrides[key] = c.Int(flag)
		}
	}

	if c.IsSet("push") {
		overrides["general.push"] = c.Bool("push")
	}
	if c.IsSet("open-pr") {
		overrides["general.open_review"] = c.Bool("open-pr")
	}
	if c.IsSet("no-sync") {
		overrides["general.sync"] = !c.Bool("no-sync")
	}
	return overrides
}

// exitCode maps a run result to the process exit code
func exitCode(outcome *models.Outcome, err error) int {
	switch {
	case errors.Is(err, publish.ErrPublish):
		return ExitPublish
	case errors.Is(err, pipeline.ErrPrecondition):
		return ExitPrecondition
	case err != nil:
		return ExitRuntime
	case outcome == nil:
		return ExitOK
	case outcome.PublishErr != nil:
		return ExitPublish
	case outcome.State == models.StateAborted:
		return ExitRejected
	}
	return ExitOK
}

func runEdit(c *cli.Context) error {
	loadDotEnv()

	cfg, err := config.LoadConfig(c.String("config"), flagOverrides(c))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load config: %v", err), ExitPrecondition)
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr); err != nil {
		return cli.Exit(err.Error(), ExitPrecondition)
	}
	if err := config.Validate(cfg); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), ExitPrecondition)
	}
	mode, err := cfg.RunMode()
	if err != nil {
		return cli.Exit(err.Error(), ExitPrecondition)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := buildRunner(ctx, cfg)
	if err != nil {
		return cli.Exit(err.Error(), ExitPrecondition)
	}
	defer cleanup()

	outcome, err := runner.Run(ctx, pipeline.Options{
		Path:         c.String("path"),
		Objective:    c.String("prompt"),
		Mode:         mode,
		MaxFiles:     cfg.General.MaxFiles,
		Branch:       cfg.General.Branch,
		Push:         cfg.General.Push,
		OpenReview:   cfg.General.OpenReview,
		BranchPrefix: cfg.General.BranchPrefix,
		Sync:         cfg.General.Sync,
	})

	if outcome != nil {
		if c.Bool("json") {
			if perr := printOutcomeJSON(c.App.Writer, outcome); perr != nil {
				log.Warn().Err(perr).Msg("Failed to encode outcome")
			}
		} else {
			printOutcome(c.App.Writer, outcome)
		}
	}

	code := exitCode(outcome, err)
	switch {
	case err != nil:
		return cli.Exit(err.Error(), code)
	case code != ExitOK:
		return cli.Exit("", code)
	}
	return nil
}

func printOutcome(w io.Writer, o *models.Outcome) {
	fmt.Fprintln(w, "=== Guarded edit ===")
	fmt.Fprintf(w, "Run:       %s\n", o.RunID)
	fmt.Fprintf(w, "Mode:      %s\n", o.Mode)
	fmt.Fprintf(w, "State:     %s\n", o.State)
	if o.Gate != nil {
		fmt.Fprintf(w, "Verdict:   %s\n", o.Gate.Verdict)
		for _, r := range o.Gate.Reasons {
			fmt.Fprintf(w, "   - %s\n", r)
		}
	}
	fmt.Fprintf(w, "Files:     %d candidate(s), %d changed (+%d/-%d)\n", o.Candidates, len(o.Touched), o.Inserted, o.Deleted)
	if o.Branch != "" {
		fmt.Fprintf(w, "Branch:    %s\n", o.Branch)
	}
	if o.ReviewURL != "" {
		fmt.Fprintf(w, "Review:    %s\n", o.ReviewURL)
	}
	if o.ManualReview {
		fmt.Fprintln(w, "⚠ A review request must be opened manually")
	}
	if o.PublishErr != nil {
		fmt.Fprintf(w, "❌ Publish failed: %v\n", o.PublishErr)
	}
	if o.Message != "" {
		fmt.Fprintf(w, "%s\n", o.Message)
	}
	fmt.Fprintln(w, "====================")
}

func printOutcomeJSON(w io.Writer, o *models.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*models.Outcome
		PublishError string `json:"publish_error,omitempty"`
	}{Outcome: o, PublishError: errString(o.PublishErr)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
