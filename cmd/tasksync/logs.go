package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vifly/tasksApp/internal/logging"
	"github.com/vifly/tasksApp/internal/ui"
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	GroupID: "advanced",
	Short:   "Show or clear the diagnostic log",
	Long: `Show the diagnostic log written by sync passes and the daemon.

--since accepts a duration ("90m"), an RFC 3339 time or plain English
("2 hours ago", "yesterday").`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		clearLog, _ := cmd.Flags().GetBool("clear")

		sink, err := openLog()
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()

		if clearLog {
			if err := sink.Clear(); err != nil {
				return err
			}
			fmt.Printf("%s Log cleared\n", ui.RenderPass("✓"))
			return nil
		}

		from, err := logging.ParseSince(since, time.Now())
		if err != nil {
			return err
		}
		lines, err := sink.Lines(from)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			fmt.Println(ui.RenderMuted("No log entries."))
			return nil
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().String("since", "", "Only show entries after this time")
	logsCmd.Flags().Bool("clear", false, "Empty the log")

	rootCmd.AddCommand(logsCmd)
}
