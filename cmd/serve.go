package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/agentconsole/internal/devserver"
)

// ServeCommand runs the mock agent backend for local development.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the mock agent backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Listen address (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	env, err := setupEnv(c)
	if err != nil {
		return err
	}
	listen := c.String("listen")
	if listen == "" {
		listen = env.cfg.Dev.Listen
	}

	server := devserver.New()
	go func() {
		if err := server.Start(listen); err != nil {
			log.Error().Err(err).Msg("Dev server stopped")
		}
	}()
	log.Info().Str("listen", listen).Msg("Mock agent backend listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
