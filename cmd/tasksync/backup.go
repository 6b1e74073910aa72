package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vifly/tasksApp/internal/backup"
	"github.com/vifly/tasksApp/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "tasks",
	Short:   "Write every task to a backup file",
	Long: `Write every task, in display order, as a JSON array or YAML list.

Without --output the backup goes to stdout. The format follows the output
file's extension unless --format is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		name, _ := cmd.Flags().GetString("format")
		if !cmd.Flags().Changed("format") {
			switch strings.ToLower(filepath.Ext(output)) {
			case ".yaml", ".yml":
				name = string(backup.FormatYAML)
			}
		}
		format, err := backup.ParseFormat(name)
		if err != nil {
			return err
		}

		return withApp(cmd.Context(), func(a *app) error {
			data, err := backup.Export(cmd.Context(), a.engine, format)
			if err != nil {
				return err
			}
			if output == "" {
				_, err := os.Stdout.Write(data)
				return err
			}
			if err := backup.WriteFile(output, data); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s Exported to %s\n", ui.RenderPass("✓"), output)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "tasks",
	Short:   "Merge tasks from a JSON backup",
	Long: `Merge tasks from a JSON backup produced by export.

Tasks whose uuid already exists are overwritten; the rest are added.
Items that are not valid tasks are skipped and reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read backup: %w", err)
		}

		return withApp(cmd.Context(), func(a *app) error {
			report, err := backup.Import(cmd.Context(), a.engine, data, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("%s Imported %d task(s)\n", ui.RenderPass("✓"), report.Imported)
			if report.Skipped > 0 {
				fmt.Printf("%s Skipped %d item(s)\n", ui.RenderWarn("!"), report.Skipped)
				if verboseFlag {
					for _, msg := range report.Errors {
						fmt.Printf("  %s\n", ui.RenderMuted(msg))
					}
				}
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().StringP("format", "f", string(backup.FormatJSON), "Output format: json or yaml")

	rootCmd.AddCommand(exportCmd, importCmd)
}
