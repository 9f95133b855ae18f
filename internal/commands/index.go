package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/tildaslashalef/kbpicker/internal/app"
	"github.com/tildaslashalef/kbpicker/internal/engine"
	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/status"
	"github.com/tildaslashalef/kbpicker/internal/utils"
	"github.com/urfave/cli/v2"
)

// IndexCommand returns the CLI command that adds resources to the knowledge
// base
func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Add files or folders to the knowledge base",
		ArgsUsage: "PATH...",
		Description: "Resolves each path in the connection and adds it to the active knowledge base. " +
			"The knowledge base is created on first use. Folders are indexed with everything below them.",
		Flags: []cli.Flag{connectionFlag, retriesFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.ShowSubcommandHelp(c)
			}
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}
			if err := requireAuth(a); err != nil {
				return err
			}

			return withLock(c.Context, a, func(ctx context.Context) error {
				e, err := a.OpenEngine(ctx)
				if err != nil {
					return reportError("Loading knowledge base", err)
				}
				connectionID, err := connectionFor(ctx, c, a, e)
				if err != nil {
					return reportError("Index", err)
				}

				var targets []resource.Resource
				for _, p := range c.Args().Slice() {
					r, err := a.Resolve(ctx, connectionID, p)
					if err != nil {
						return reportError("Resolving "+p, err)
					}
					targets = append(targets, r)
				}

				err = withRetry(ctx, c.Int(retriesFlag.Name), "include", func() error {
					return e.Include(ctx, connectionID, targets)
				})
				// a knowledge base created before a failure must still be remembered
				if serr := a.SaveEngineState(ctx, e); serr != nil {
					loggy.Error("Failed to save knowledge base", "error", serr)
				}
				if err != nil {
					return reportError("Index", err)
				}

				printOutcome(e, targets, status.Indexed)
				return nil
			})
		},
	}
}

// DeindexCommand returns the CLI command that removes resources from the
// knowledge base
func DeindexCommand() *cli.Command {
	return &cli.Command{
		Name:      "deindex",
		Aliases:   []string{"rm"},
		Usage:     "Remove files or folders from the knowledge base",
		ArgsUsage: "PATH...",
		Description: "Removes each path from the active knowledge base. Removing a folder deletes " +
			"every materialized item below it. Paths are processed one at a time.",
		Flags: []cli.Flag{connectionFlag, retriesFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.ShowSubcommandHelp(c)
			}
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}
			if err := requireAuth(a); err != nil {
				return err
			}

			return withLock(c.Context, a, func(ctx context.Context) error {
				e, err := a.OpenEngine(ctx)
				if err != nil {
					return reportError("Loading knowledge base", err)
				}
				if e.KnowledgeBaseID() == "" {
					utils.PrintWarning("No active knowledge base, nothing to remove")
					return nil
				}
				connectionID, err := connectionFor(ctx, c, a, e)
				if err != nil {
					return reportError("Deindex", err)
				}

				var removed []resource.Resource
				for _, p := range c.Args().Slice() {
					r, err := a.Resolve(ctx, connectionID, p)
					if err != nil {
						return reportError("Resolving "+p, err)
					}

					refreshParent(ctx, e, r.Path)
					if e.Status(r.ID) != status.Indexed {
						utils.PrintWarning(fmt.Sprintf("%s is not indexed", resource.NormalizePath(r.Path)))
						continue
					}

					err = withRetry(ctx, c.Int(retriesFlag.Name), "exclude", func() error {
						return e.Exclude(ctx, r)
					})
					if serr := a.SaveEngineState(ctx, e); serr != nil {
						loggy.Error("Failed to save knowledge base", "error", serr)
					}
					if err != nil {
						return reportError("Deindex "+p, err)
					}
					removed = append(removed, r)
				}

				if len(removed) > 0 {
					printOutcome(e, removed, status.NotIndexed)
				}
				return nil
			})
		},
	}
}

func printOutcome(e *engine.Engine, targets []resource.Resource, want status.Status) {
	for _, r := range targets {
		label := resource.NormalizePath(r.Path)
		if e.Status(r.ID) == want {
			utils.PrintSuccess(fmt.Sprintf("%s %s", label, utils.StatusBadge(string(want))))
		} else {
			utils.PrintWarning(fmt.Sprintf("%s %s", label, utils.StatusBadge(string(e.Status(r.ID)))))
		}
	}
	utils.PrintKeyValue("Knowledge base", color.YellowString("%s", e.KnowledgeBaseID()))
	utils.PrintKeyValue("Members", fmt.Sprint(len(e.Members())))
}
