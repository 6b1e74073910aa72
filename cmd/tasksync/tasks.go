package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vifly/tasksApp/internal/schema"
	"github.com/vifly/tasksApp/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <content...>",
	GroupID: "tasks",
	Short:   "Add a task to the top of the list",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, _ := cmd.Flags().GetStringSlice("tag")
		return withApp(cmd.Context(), func(a *app) error {
			task, err := a.tasks.Create(cmd.Context(), strings.Join(args, " "), tags)
			if err != nil {
				return err
			}
			fmt.Printf("%s Added %s %s\n", ui.RenderPass("✓"), ui.RenderMuted(ui.ShortID(task.UUID)), task.Content)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "tasks",
	Short:   "List tasks in display order",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(cmd.Context(), func(a *app) error {
			list, err := a.tasks.List(cmd.Context())
			if err != nil {
				return err
			}
			if tag != "" {
				filtered := list[:0]
				for _, t := range list {
					if t.HasTag(tag) {
						filtered = append(filtered, t)
					}
				}
				list = filtered
			}

			if asJSON {
				if list == nil {
					list = []*schema.Task{}
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			fmt.Print(ui.TaskList(list))
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "tasks",
	Short:   "Show every field of a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			task, err := a.tasks.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Print(ui.TaskDetail(task))
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id> [content...]",
	GroupID: "tasks",
	Short:   "Change the content or tags of a task",
	Long: `Change the content or tags of a task.

The id may be any unique prefix of the task's uuid. Tags given with --tag
replace the current tags; --clear-tags removes them all.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var tags []string
		if cmd.Flags().Changed("tag") {
			tags, _ = cmd.Flags().GetStringSlice("tag")
		}
		if clearTags, _ := cmd.Flags().GetBool("clear-tags"); clearTags {
			tags = []string{}
		}
		content := strings.Join(args[1:], " ")
		if content == "" && tags == nil {
			return fmt.Errorf("nothing to change: give new content, --tag or --clear-tags")
		}

		return withApp(cmd.Context(), func(a *app) error {
			task, err := a.tasks.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			edited, err := a.tasks.Edit(cmd.Context(), task.UUID, content, tags)
			if err != nil {
				return err
			}
			fmt.Printf("%s Updated %s %s\n", ui.RenderPass("✓"), ui.RenderMuted(ui.ShortID(edited.UUID)), edited.Content)
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id...>",
	Aliases: []string{"remove", "done"},
	GroupID: "tasks",
	Short:   "Remove tasks",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			uuids := make([]string, 0, len(args))
			for _, id := range args {
				task, err := a.tasks.Resolve(cmd.Context(), id)
				if err != nil {
					return err
				}
				uuids = append(uuids, task.UUID)
			}
			if err := a.tasks.Remove(cmd.Context(), uuids...); err != nil {
				return err
			}
			fmt.Printf("%s Removed %d task(s)\n", ui.RenderPass("✓"), len(uuids))
			return nil
		})
	},
}

var pinCmd = &cobra.Command{
	Use:     "pin <id>",
	GroupID: "tasks",
	Short:   "Pin a task to the top, or unpin it",
	Long: `Pin a task to the top of the list, or unpin it if it is pinned.

Only one task is pinned at a time; pinning a task unpins the previous one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			task, err := a.tasks.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			toggled, err := a.tasks.TogglePin(cmd.Context(), task.UUID)
			if err != nil {
				return err
			}
			verb := "Unpinned"
			if toggled.IsPinned {
				verb = "Pinned"
			}
			fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), verb, toggled.Content)
			return nil
		})
	},
}

var moveCmd = &cobra.Command{
	Use:     "move <id>",
	GroupID: "tasks",
	Short:   "Move a task within the list",
	Long: `Move a task within the list.

--after puts the task directly below another one, --before directly above
it. Give both to drop it between two neighbors, or use --top or --bottom.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		afterID, _ := cmd.Flags().GetString("after")
		beforeID, _ := cmd.Flags().GetString("before")
		top, _ := cmd.Flags().GetBool("top")
		bottom, _ := cmd.Flags().GetBool("bottom")
		if !top && !bottom && afterID == "" && beforeID == "" {
			return fmt.Errorf("give --after, --before, --top or --bottom")
		}

		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			task, err := a.tasks.Resolve(ctx, args[0])
			if err != nil {
				return err
			}

			var after, before string
			if afterID != "" {
				t, err := a.tasks.Resolve(ctx, afterID)
				if err != nil {
					return err
				}
				after = t.UUID
			}
			if beforeID != "" {
				t, err := a.tasks.Resolve(ctx, beforeID)
				if err != nil {
					return err
				}
				before = t.UUID
			}

			if top || bottom {
				list, err := a.tasks.List(ctx)
				if err != nil {
					return err
				}
				others := list[:0]
				for _, t := range list {
					if t.UUID != task.UUID {
						others = append(others, t)
					}
				}
				if len(others) == 0 {
					return nil
				}
				after, before = "", ""
				if top {
					before = others[0].UUID
				} else {
					after = others[len(others)-1].UUID
				}
			}

			if err := a.tasks.Move(ctx, task.UUID, after, before); err != nil {
				return err
			}
			fmt.Printf("%s Moved %s\n", ui.RenderPass("✓"), task.Content)
			return nil
		})
	},
}

var repairCmd = &cobra.Command{
	Use:     "repair",
	GroupID: "advanced",
	Short:   "Remove duplicate tasks and fix the list order",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			changed, err := a.engine.Repair(cmd.Context())
			if err != nil {
				return err
			}
			if changed {
				fmt.Printf("%s Repaired the task list\n", ui.RenderPass("✓"))
			} else {
				fmt.Println("Nothing to repair")
			}
			return nil
		})
	},
}

func init() {
	addCmd.Flags().StringSliceP("tag", "t", nil, "Tag to attach (repeatable)")

	listCmd.Flags().String("tag", "", "Only show tasks with this tag")
	listCmd.Flags().Bool("json", false, "Print tasks as JSON")

	editCmd.Flags().StringSliceP("tag", "t", nil, "Replace tags (repeatable)")
	editCmd.Flags().Bool("clear-tags", false, "Remove all tags")

	moveCmd.Flags().String("after", "", "Place below this task")
	moveCmd.Flags().String("before", "", "Place above this task")
	moveCmd.Flags().Bool("top", false, "Move to the top")
	moveCmd.Flags().Bool("bottom", false, "Move to the bottom")
	moveCmd.MarkFlagsMutuallyExclusive("top", "bottom")

	rootCmd.AddCommand(addCmd, listCmd, showCmd, editCmd, rmCmd, pinCmd, moveCmd, repairCmd)
}
