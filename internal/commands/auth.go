package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/tildaslashalef/kbpicker/internal/app"
	"github.com/tildaslashalef/kbpicker/internal/utils"
	"github.com/urfave/cli/v2"
)

// LoginCommand returns the CLI command for signing in
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in with email and password",
		Description: "Exchanges email and password for an access token and stores the token " +
			"in the local database. Credentials default to KBPICKER_AUTH_EMAIL and KBPICKER_AUTH_PASSWORD.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "email",
				Aliases: []string{"e"},
				Usage:   "Account email",
			},
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "Account password (prompted when omitted)",
			},
		},
		Action: func(c *cli.Context) error {
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}

			email := c.String("email")
			if email == "" {
				email = a.Config.Auth.Email
			}
			password := c.String("password")
			if password == "" {
				password = a.Config.Auth.Password
			}

			reader := bufio.NewReader(os.Stdin)
			if email == "" {
				if email, err = prompt(reader, "Email: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = prompt(reader, "Password: "); err != nil {
					return err
				}
			}

			token, err := a.Client.Login(c.Context, email, password)
			if err != nil {
				return reportError("Login", err)
			}
			if err := a.Settings.SaveLogin(c.Context, email, token); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to save session: %s", err))
				return err
			}

			utils.PrintSuccess("Logged in as " + color.YellowString("%s", email))
			return nil
		},
	}
}

// LogoutCommand returns the CLI command for signing out
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Remove the stored access token",
		Action: func(c *cli.Context) error {
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}

			a.Client.Session().Clear()
			if err := a.Settings.ClearLogin(c.Context); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to clear session: %s", err))
				return err
			}
			utils.PrintSuccess("Logged out")
			return nil
		},
	}
}

func prompt(r *bufio.Reader, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
