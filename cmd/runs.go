package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/agentconsole/internal/backgroundrun"
	"github.com/agentconsole/internal/notify"
)

// RunsCommand lists persisted background runs and optionally watches them
// to completion with the global scanner.
func RunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List background runs across all agents",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Keep scanning until interrupted, reporting completions",
			},
		},
		Action: runRuns,
	}
}

func runRuns(c *cli.Context) error {
	env, err := setupEnv(c)
	if err != nil {
		return err
	}

	namespaces, err := env.storage.Namespaces()
	if err != nil {
		return fmt.Errorf("failed to list run namespaces: %w", err)
	}

	total := 0
	for _, agentID := range namespaces {
		entries, err := env.storage.Load(agentID)
		if err != nil {
			return fmt.Errorf("failed to load runs for agent %s: %w", agentID, err)
		}
		for threadID, entry := range entries {
			fmt.Printf("%-24s thread=%s run=%s status=%s", agentID, threadID, entry.RunID, entry.Status)
			if entry.FailCount > 0 {
				fmt.Printf(" failed_queries=%d", entry.FailCount)
			}
			fmt.Println()
			total++
		}
	}
	if total == 0 {
		fmt.Println("No background runs tracked.")
	}
	if !c.Bool("watch") {
		return nil
	}

	scanner := backgroundrun.EnsureGlobalScanner(func() *backgroundrun.Scanner {
		s := backgroundrun.NewScanner(env.storage, notify.Default(), env.client, consoleNotices{}, env.cfg.PollInterval())
		s.SetEvictAfter(env.cfg.Polling.EvictAfter)
		return s
	})
	defer scanner.Stop()

	fmt.Println("Watching for completions (Ctrl-C to stop)...")
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	<-ctx.Done()
	return nil
}

// consoleNotices prints the scanner's cross-view notifications.
type consoleNotices struct{}

func (consoleNotices) RunCompleted(agentID, threadID string, record backgroundrun.RunRecord) {
	if record.Error != "" {
		fmt.Printf("Run %s on %s/%s finished: %s (%s)\n", record.RunID, agentID, threadID, record.Status, record.Error)
		return
	}
	fmt.Printf("Run %s on %s/%s finished: %s\n", record.RunID, agentID, threadID, record.Status)
}

func (consoleNotices) RunOrphaned(agentID, threadID, runID string) {
	fmt.Printf("Run %s on %s/%s not found, may have been cancelled\n", runID, agentID, threadID)
}
