package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/agentconsole/internal/assembly"
	"github.com/agentconsole/internal/notify"
	"github.com/agentconsole/internal/session"
	"github.com/agentconsole/internal/statusstore"
)

// ChatCommand sends one message to an agent and renders the assembled reply.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Send a message and stream the reply",
		ArgsUsage: "MESSAGE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "agent",
				Aliases:  []string{"a"},
				Usage:    "Agent id to talk to",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "thread",
				Aliases: []string{"t"},
				Usage:   "Continue an existing thread",
			},
			&cli.BoolFlag{
				Name:    "background",
				Aliases: []string{"b"},
				Usage:   "Submit as a background run instead of streaming",
			},
		},
		Action: runChat,
	}
}

func runChat(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: agentconsole chat --agent ID MESSAGE")
	}
	message := c.Args().First()

	env, err := setupEnv(c)
	if err != nil {
		return err
	}

	agentID := c.String("agent")
	store := statusstore.New(agentID, env.storage, notify.Default())
	defer store.Close()

	sess := session.New(agentID, env.client, store, env.cfg.PollInterval())
	if threadID := c.String("thread"); threadID != "" {
		if err := sess.LoadHistory(c.Context, threadID); err != nil {
			return err
		}
	}

	// Ctrl-C cancels the stream; a cancelled stream is a normal ending.
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	if c.Bool("background") {
		runID, err := sess.SubmitBackground(ctx, message)
		if err != nil {
			return err
		}
		fmt.Printf("Run %s started on thread %s; track it with 'agentconsole runs'\n", runID, sess.ThreadID())
		return nil
	}

	if err := sess.Submit(ctx, message); err != nil {
		return err
	}

	messages := sess.Messages()
	if len(messages) > 0 {
		printMessage(messages[len(messages)-1])
	}
	fmt.Printf("\nthread: %s\n", sess.ThreadID())
	return nil
}

func printMessage(msg *assembly.Message) {
	for _, block := range msg.ContentBlocks {
		switch block.Type {
		case assembly.BlockText:
			fmt.Println(block.Text)
		case assembly.BlockToolCall:
			args, _ := json.Marshal(block.ToolCall.Args)
			fmt.Printf("[tool call] %s %s\n", block.ToolCall.Name, args)
		case assembly.BlockToolResult:
			fmt.Printf("[tool result] %s\n", block.ToolResult.Result)
		}
	}
	if len(msg.ContentBlocks) == 0 && msg.Content != "" {
		fmt.Println(msg.Content)
	}
}
