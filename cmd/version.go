package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli/v2"
)

// VersionCommand returns the version command
func VersionCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "guardedit %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
