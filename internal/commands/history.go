package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/tildaslashalef/kbpicker/internal/app"
	"github.com/tildaslashalef/kbpicker/internal/utils"
	"github.com/urfave/cli/v2"
)

// HistoryCommand returns the CLI command that prints the operation journal
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent index and deindex operations",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of entries to show",
				Value:   20,
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Include operations on every knowledge base",
			},
			&cli.DurationFlag{
				Name:  "prune",
				Usage: "Delete entries older than this before listing (eg: 720h)",
			},
		},
		Action: func(c *cli.Context) error {
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}
			ctx := c.Context

			if age := c.Duration("prune"); age > 0 {
				n, err := a.Journal.Prune(ctx, time.Now().Add(-age))
				if err != nil {
					utils.PrintError(fmt.Sprintf("Failed to prune history: %s", err))
					return err
				}
				utils.PrintInfo(fmt.Sprintf("Pruned %d entries", n))
			}

			kbID := ""
			if !c.Bool("all") {
				if kbID, _, err = a.Settings.ActiveKnowledgeBase(ctx); err != nil {
					return err
				}
			}

			entries, err := a.Journal.List(ctx, kbID, c.Int("limit"), 0)
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to read history: %s", err))
				return err
			}
			if len(entries) == 0 {
				utils.PrintInfo("No operations recorded")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				detail := entry.ErrorMessage
				if entry.ErrorKind != "" {
					detail = entry.ErrorKind + ": " + detail
				}
				rows = append(rows, []string{
					utils.FormatTime(entry.CompletedAt),
					string(entry.Operation),
					utils.OutcomeBadge(string(entry.Outcome)),
					utils.Truncate(strings.Join(entry.ResourceIDs, ","), 40),
					fmt.Sprint(entry.MembersAfter),
					utils.FormatDuration(entry.Duration()),
					utils.Truncate(detail, 60),
				})
			}

			title := "All knowledge bases"
			if kbID != "" {
				title = kbID
			}
			utils.PrintTable([]string{"Time", "Operation", "Outcome", "Resources", "Members", "Took", "Error"}, rows, utils.TableOptions{
				Title: title,
				Style: utils.DefaultTableOptions().Style,
			})
			return nil
		},
	}
}
