package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/tildaslashalef/kbpicker/internal/app"
	"github.com/tildaslashalef/kbpicker/internal/config"
	"github.com/tildaslashalef/kbpicker/internal/engine"
	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/status"
	"github.com/tildaslashalef/kbpicker/internal/utils"
	"github.com/urfave/cli/v2"
)

// ListCommand returns the CLI command that browses the connection
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List a connection folder with indexing status",
		ArgsUsage: "[PATH]",
		Flags: []cli.Flag{
			connectionFlag,
			retriesFlag,
			&cli.BoolFlag{
				Name:  "tree",
				Usage: "Print names as a tree instead of a table",
			},
			&cli.BoolFlag{
				Name:  "indexed",
				Usage: "Only show indexed items",
			},
		},
		Action: func(c *cli.Context) error {
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}
			if err := requireAuth(a); err != nil {
				return err
			}

			ctx := c.Context
			e, err := a.OpenEngine(ctx)
			if err != nil {
				return reportError("Loading knowledge base", err)
			}
			connectionID, err := connectionFor(ctx, c, a, e)
			if err != nil {
				return reportError("List", err)
			}

			p := resource.NormalizePath(c.Args().First())
			folderID := ""
			if p != "/" {
				folder, err := a.Resolve(ctx, connectionID, p)
				if err != nil {
					return reportError("Resolving "+p, err)
				}
				if !folder.IsDirectory() {
					return reportError("List", fmt.Errorf("%s is not a folder", p))
				}
				folderID = folder.ID
			}

			var items []engine.Item
			err = withRetry(ctx, c.Int(retriesFlag.Name), "browse", func() error {
				var err error
				items, err = e.Browse(ctx, connectionID, folderID, p)
				return err
			})
			if err != nil {
				return reportError("List", err)
			}
			if c.Bool("indexed") {
				items = onlyIndexed(items)
			}

			sortItems(items)
			if c.Bool("tree") {
				printTree(p, items)
			} else {
				printItems(p, items)
			}
			return saveConnection(ctx, a, e, connectionID)
		},
	}
}

// saveConnection stores the connection id the first time one is used
func saveConnection(ctx context.Context, a *app.App, e *engine.Engine, connectionID string) error {
	if e.KnowledgeBaseID() != "" {
		return nil
	}
	_, stored, err := a.Settings.ActiveKnowledgeBase(ctx)
	if err != nil || stored == connectionID {
		return err
	}
	return a.Settings.SetSetting(ctx, config.KeyConnectionID, connectionID)
}

func onlyIndexed(items []engine.Item) []engine.Item {
	out := items[:0]
	for _, item := range items {
		if item.Status == status.Indexed {
			out = append(out, item)
		}
	}
	return out
}

// folders first, then by name
func sortItems(items []engine.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsDirectory() != items[j].IsDirectory() {
			return items[i].IsDirectory()
		}
		return items[i].Name() < items[j].Name()
	})
}

func printItems(p string, items []engine.Item) {
	if len(items) == 0 {
		utils.PrintInfo(fmt.Sprintf("%s is empty", p))
		return
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		name := item.Name()
		size := ""
		if item.IsDirectory() {
			name += "/"
		} else if item.Size > 0 {
			size = utils.FormatBytes(item.Size)
		}
		rows = append(rows, []string{
			utils.Truncate(name, 60),
			utils.StatusBadge(string(item.Status)),
			size,
			utils.FormatTime(item.ModifiedAt),
			item.ID,
		})
	}
	utils.PrintTable([]string{"Name", "Status", "Size", "Modified", "ID"}, rows, utils.TableOptions{
		Title: p,
		Style: utils.DefaultTableOptions().Style,
	})
}

func printTree(p string, items []engine.Item) {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		name := item.Name()
		if item.IsDirectory() {
			name += "/"
		}
		lines = append(lines, fmt.Sprintf("%s  %s", name, utils.StatusBadge(string(item.Status))))
	}
	utils.PrintTreeList(p, lines)
}
