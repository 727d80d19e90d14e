package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/agentconsole/internal/config"
)

// ConfigCommand manages the configuration file.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a starter configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "path",
						Usage: "Where to write the file",
						Value: "agentconsole.toml",
					},
				},
				Action: func(c *cli.Context) error {
					path := c.String("path")
					if err := config.InitConfig(path); err != nil {
						return err
					}
					fmt.Printf("Wrote %s\n", path)
					return nil
				},
			},
		},
	}
}
