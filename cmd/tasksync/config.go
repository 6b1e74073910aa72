package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vifly/tasksApp/internal/config"
	"github.com/vifly/tasksApp/internal/remote"
	"github.com/vifly/tasksApp/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "sync",
	Short:   "Show or change sync settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderMuted("# " + path))
		return toml.NewEncoder(os.Stdout).Encode(settings.Redacted())
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: "Change one setting.\n\nKeys: " + strings.Join(config.Keys(), ", ") + `

Values from TASKSYNC_* environment variables override the file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		settings, err := config.Load(path)
		if err != nil {
			return err
		}
		if err := settings.Set(args[0], args[1]); err != nil {
			return err
		}
		if args[0] == "server_url" && settings.ServerURL != "" {
			if _, err := remote.Parse(settings.ServerURL); err != nil {
				return err
			}
		}
		if err := config.Save(path, settings); err != nil {
			return err
		}
		fmt.Printf("%s Set %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var setupCmd = &cobra.Command{
	Use:     "setup",
	GroupID: "sync",
	Short:   "Configure sync interactively",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("setup needs a terminal; use 'tasksync config set' instead")
		}

		path, err := configPath()
		if err != nil {
			return err
		}
		settings, err := config.Load(path)
		if err != nil {
			return err
		}

		interval := strconv.Itoa(settings.SyncIntervalMinutes)
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Server URL").
					Description("WebDAV URL (https://...) or a shared directory path").
					Value(&settings.ServerURL).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return nil
						}
						_, err := remote.Parse(s)
						return err
					}),
				huh.NewInput().
					Title("Username").
					Description("Leave empty for directory remotes").
					Value(&settings.Username),
				huh.NewInput().
					Title("Password").
					EchoMode(huh.EchoModePassword).
					Value(&settings.Password),
			),
			huh.NewGroup(
				huh.NewConfirm().
					Title("Sync automatically while the daemon runs?").
					Value(&settings.AutoSync),
				huh.NewInput().
					Title("Sync interval (minutes)").
					Value(&interval).
					Validate(func(s string) error {
						n, err := strconv.Atoi(s)
						if err != nil || n < config.MinSyncIntervalMinutes {
							return fmt.Errorf("enter a whole number of at least %d", config.MinSyncIntervalMinutes)
						}
						return nil
					}),
			),
		)
		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println("Setup cancelled")
				return nil
			}
			return fmt.Errorf("failed to run setup form: %w", err)
		}

		settings.ServerURL = strings.TrimSpace(settings.ServerURL)
		settings.SyncIntervalMinutes, _ = strconv.Atoi(interval)
		if err := settings.Validate(); err != nil {
			return err
		}
		if err := config.Save(path, settings); err != nil {
			return err
		}
		fmt.Printf("%s Saved %s\n", ui.RenderPass("✓"), path)
		if settings.Configured() {
			fmt.Println("Run 'tasksync sync' to sync now.")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd, setupCmd)
}
