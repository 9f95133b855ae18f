package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/kbpicker/internal/app"
	"github.com/tildaslashalef/kbpicker/internal/commands"
)

// Version information - populated at build time
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
	Author     = "unknown"
	Email      = "unknown"
)

// commands that run before the environment exists
var standalone = map[string]bool{
	"init": true,
	"help": true,
	"h":    true,
}

func main() {
	cliApp := &cli.App{
		Name:  "kbpicker",
		Usage: "Pick files from a connected drive into a knowledge base",
		Description: "kbpicker browses a connected storage provider and keeps a knowledge base in\n" +
			"sync with the files and folders you index or deindex.\n\n" +
			"Run 'kbpicker init' once, then 'kbpicker login'.",
		Version: fmt.Sprintf("%s (%s)", Version, CommitHash),
		Compiled: func() time.Time {
			t, err := time.Parse(time.RFC3339, BuildTime)
			if err != nil {
				return time.Now()
			}
			return t
		}(),
		Authors: []*cli.Author{
			{
				Name:  Author,
				Email: Email,
			},
		},
		Before: func(c *cli.Context) error {
			if standalone[c.Args().First()] {
				return nil
			}

			// Initialize the application
			application, err := app.New()
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			// Store the app instance in the context for later use
			c.App.Metadata = map[string]interface{}{
				"app": application,
			}

			return nil
		},
		After: func(c *cli.Context) error {
			// Gracefully shutdown the application
			if app, ok := c.App.Metadata["app"].(*app.App); ok {
				return app.Shutdown()
			}
			return nil
		},
		Commands: []*cli.Command{
			commands.InitCommand(),
			commands.LoginCommand(),
			commands.LogoutCommand(),
			commands.ListCommand(),
			commands.IndexCommand(),
			commands.DeindexCommand(),
			commands.StatusCommand(),
			commands.KnowledgeBaseCommand(),
			commands.HistoryCommand(),
			commands.MigrateCommand(),
		},
		Action: func(c *cli.Context) error {
			// Default action is to show the status
			return commands.StatusCommand().Action(c)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}
