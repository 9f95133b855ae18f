package commands

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/tildaslashalef/kbpicker/internal/config"
	"github.com/tildaslashalef/kbpicker/internal/database"
	"github.com/tildaslashalef/kbpicker/internal/utils"
	"github.com/urfave/cli/v2"
)

// InitCommand returns the CLI command for initializing kbpicker
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the kbpicker environment",
		Description: "Sets up the configuration directory with a sample .env and indexing.yaml " +
			"and creates the local database. Run it again after upgrading to apply new migrations.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "backup",
				Usage: "Back up an existing .env before replacing it",
				Value: true,
			},
		},
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing kbpicker")

			configDir, err := config.DefaultConfigDir()
			if err != nil {
				utils.PrintError(err.Error())
				return err
			}
			utils.PrintInfo("Configuration directory: " + color.YellowString("%s", configDir))

			utils.PrintInfo("Extracting default configuration files")
			if err := config.SetupConfigDirectory(configDir, c.Bool("backup")); err != nil {
				utils.PrintWarning(fmt.Sprintf("Failed to set up configuration files: %s", err))
				// Continue anyway as this is not critical
			}

			configFilePath := filepath.Join(configDir, ".env")
			cfg, err := config.LoadFromEnv(configDir, configFilePath)
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			utils.PrintInfo("Initializing database...")
			if err := database.InitDB(cfg); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer database.CloseDB()

			utils.PrintInfo("Applying database migrations...")
			migrationsApplied, err := database.RunMigrations()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			utils.PrintSuccess("kbpicker initialized successfully!")
			if migrationsApplied > 0 {
				utils.PrintSuccess(fmt.Sprintf("Applied %d new migration(s)", migrationsApplied))
			} else {
				utils.PrintInfo("Database schema is already up-to-date")
			}

			utils.PrintInfo("Configuration file: " + color.YellowString("%s", configFilePath))
			utils.PrintInfo("Indexing parameters: " + color.YellowString("%s", filepath.Join(configDir, config.IndexingFileName)))
			utils.PrintInfo("Database location: " + color.YellowString("%s", cfg.Database.Path))
			utils.PrintInfo("Log file location: " + color.YellowString("%s", cfg.Logging.Output))
			fmt.Fprintln(utils.Output)
			utils.PrintInfo("Next, run " + color.CyanString("kbpicker login") + " to sign in.")

			return nil
		},
	}
}
