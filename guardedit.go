package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/guardedit/cmd"
	"github.com/guardedit/internal/logging"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "guardedit",
		Usage:   "AI-assisted source edits behind a risk gate",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (console or json)",
			},
		},
		Before: func(c *cli.Context) error {
			return logging.Setup(c.String("log-level"), c.String("log-format"), os.Stderr)
		},
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.ConfigCommand(),
			cmd.VersionCommand(version),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
