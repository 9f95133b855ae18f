package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/tildaslashalef/kbpicker/internal/app"
	"github.com/tildaslashalef/kbpicker/internal/utils"
	"github.com/urfave/cli/v2"
)

// KnowledgeBaseCommand returns the CLI command for managing the active
// knowledge base
func KnowledgeBaseCommand() *cli.Command {
	return &cli.Command{
		Name:  "kb",
		Usage: "Show, switch or forget the active knowledge base",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the active knowledge base and its sources",
				Action: kbShow,
			},
			{
				Name:      "use",
				Usage:     "Make an existing knowledge base the active one",
				ArgsUsage: "KNOWLEDGE_BASE_ID",
				Flags:     []cli.Flag{connectionFlag},
				Action:    kbUse,
			},
			{
				Name:   "forget",
				Usage:  "Stop using the active knowledge base. Nothing is deleted remotely.",
				Action: kbForget,
			},
		},
		Action: kbShow,
	}
}

func kbShow(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if err := requireAuth(a); err != nil {
		return err
	}

	kbID, _, err := a.Settings.ActiveKnowledgeBase(c.Context)
	if err != nil {
		return err
	}
	if kbID == "" {
		utils.PrintInfo("No active knowledge base")
		return nil
	}

	kb, err := a.Client.GetKnowledgeBase(c.Context, kbID)
	if err != nil {
		return reportError("Loading knowledge base", err)
	}

	utils.PrintHeading(kb.Name)
	utils.PrintKeyValue("ID", color.YellowString("%s", kb.KnowledgeBaseID))
	utils.PrintKeyValue("Connection", kb.ConnectionID)
	if kb.Description != "" {
		utils.PrintKeyValue("Description", kb.Description)
	}
	utils.PrintKeyValue("Sources", fmt.Sprint(len(kb.ConnectionSourceIDs)))

	if len(kb.ConnectionSourceIDs) > 0 {
		rows := make([][]string, 0, len(kb.ConnectionSourceIDs))
		for _, id := range kb.ConnectionSourceIDs {
			rows = append(rows, []string{id})
		}
		utils.PrintTable([]string{"Source ID"}, rows)
	}
	return nil
}

func kbUse(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if err := requireAuth(a); err != nil {
		return err
	}
	kbID := c.Args().First()

	return withLock(c.Context, a, func(ctx context.Context) error {
		e, err := a.OpenEngine(ctx)
		if err != nil {
			return reportError("Loading knowledge base", err)
		}
		if err := e.Attach(ctx, kbID, c.String(connectionFlag.Name)); err != nil {
			return reportError("Attach", err)
		}
		if err := a.SaveEngineState(ctx, e); err != nil {
			return err
		}

		utils.PrintSuccess("Now using knowledge base " + color.YellowString("%s", kbID))
		utils.PrintKeyValue("Members", fmt.Sprint(len(e.Members())))
		return nil
	})
}

func kbForget(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	return withLock(c.Context, a, func(ctx context.Context) error {
		kbID, _, err := a.Settings.ActiveKnowledgeBase(ctx)
		if err != nil {
			return err
		}
		if kbID == "" {
			utils.PrintInfo("No active knowledge base")
			return nil
		}
		if err := a.Settings.ForgetKnowledgeBase(ctx); err != nil {
			return err
		}
		utils.PrintSuccess("Forgot knowledge base " + color.YellowString("%s", kbID))
		return nil
	})
}
