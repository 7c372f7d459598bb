package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/guardedit/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   config.DefaultConfigFile,
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "check",
				Usage:  "Report which credentials and integrations are configured",
				Action: runConfigCheck,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	loadDotEnv()

	cfg, err := config.LoadConfig(c.String("config"), nil)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load config: %v", err), ExitPrecondition)
	}

	if err := config.Validate(cfg); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), ExitPrecondition)
	}

	fmt.Fprintln(c.App.Writer, "Configuration is valid")
	return nil
}

func runConfigCheck(c *cli.Context) error {
	loadDotEnv()

	cfg, err := config.LoadConfig(c.String("config"), nil)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load config: %v", err), ExitPrecondition)
	}

	result := CheckRequiredConfig(cfg)
	PrintConfigCheck(c.App.Writer, result)
	if len(result.Missing) > 0 {
		return cli.Exit("", ExitPrecondition)
	}
	return nil
}
