package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/tildaslashalef/kbpicker/internal/app"
	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/utils"
	"github.com/urfave/cli/v2"
)

// StatusCommand returns the CLI command that reports the session, the active
// knowledge base and optionally the status of individual paths
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the active knowledge base and the status of paths",
		ArgsUsage: "[PATH...]",
		Flags:     []cli.Flag{connectionFlag},
		Action: func(c *cli.Context) error {
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}
			ctx := c.Context

			utils.PrintHeading("kbpicker status")
			if a.Client.Session().Authenticated() {
				utils.PrintKeyValueWithColor("Session", "logged in as "+a.Config.Auth.Email, utils.Theme.Success)
			} else {
				utils.PrintKeyValueWithColor("Session", "logged out", utils.Theme.Warning)
				return nil
			}

			e, err := a.OpenEngine(ctx)
			if err != nil {
				return reportError("Loading knowledge base", err)
			}
			kbID := e.KnowledgeBaseID()
			if kbID == "" {
				utils.PrintKeyValueWithColor("Knowledge base", "none", utils.Theme.Subtle)
				utils.PrintInfo("Run " + color.CyanString("kbpicker index PATH") + " to create one.")
			} else {
				utils.PrintKeyValue("Knowledge base", color.YellowString("%s", kbID))
				utils.PrintKeyValue("Members", fmt.Sprint(len(e.Members())))
			}
			if id := e.ConnectionID(); id != "" {
				utils.PrintKeyValue("Connection", id)
			}

			if a.Journal != nil && kbID != "" {
				last, err := a.Journal.Latest(ctx, kbID)
				if err != nil {
					utils.PrintWarning(fmt.Sprintf("Failed to read history: %s", err))
				} else if last != nil {
					utils.PrintKeyValue("Last operation", fmt.Sprintf("%s %s at %s",
						last.Operation, utils.OutcomeBadge(string(last.Outcome)), utils.FormatTime(last.CompletedAt)))
				}
			}

			if c.NArg() == 0 || kbID == "" {
				return nil
			}
			connectionID, err := connectionFor(ctx, c, a, e)
			if err != nil {
				return reportError("Status", err)
			}

			rows := make([][]string, 0, c.NArg())
			for _, p := range c.Args().Slice() {
				r, err := a.Resolve(ctx, connectionID, p)
				if err != nil {
					rows = append(rows, []string{resource.NormalizePath(p), utils.Theme.Error.Sprint("not found"), ""})
					continue
				}
				refreshParent(ctx, e, r.Path)
				rows = append(rows, []string{resource.NormalizePath(r.Path), utils.StatusBadge(string(e.Status(r.ID))), r.ID})
			}
			fmt.Fprintln(utils.Output)
			utils.PrintTable([]string{"Path", "Status", "ID"}, rows)
			return nil
		},
	}
}
