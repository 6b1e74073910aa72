// Package ui renders CLI output with lipgloss styles.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/vifly/tasksApp/internal/schema"
)

// ShortIDLen is the uuid prefix length shown in lists.
const ShortIDLen = 8

var (
	renderer = lipgloss.NewRenderer(os.Stdout)

	accentStyle lipgloss.Style
	passStyle   lipgloss.Style
	warnStyle   lipgloss.Style
	failStyle   lipgloss.Style
	mutedStyle  lipgloss.Style
	tagStyle    lipgloss.Style
	pinStyle    lipgloss.Style
)

func init() {
	buildStyles()
}

func buildStyles() {
	accentStyle = renderer.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	passStyle = renderer.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = renderer.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle = renderer.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle = renderer.NewStyle().Foreground(lipgloss.Color("244"))
	tagStyle = renderer.NewStyle().Foreground(lipgloss.Color("141"))
	pinStyle = renderer.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
}

// SetOutput points the renderer at w, detecting its color support.
func SetOutput(w io.Writer) {
	renderer = lipgloss.NewRenderer(w)
	buildStyles()
}

// DisableColor forces plain output.
func DisableColor() {
	renderer.SetColorProfile(termenv.Ascii)
	buildStyles()
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// ShortID returns the display prefix of a uuid.
func ShortID(uuid string) string {
	if len(uuid) <= ShortIDLen {
		return uuid
	}
	return uuid[:ShortIDLen]
}

// TaskList renders tasks, one per line, in the given order.
func TaskList(tasks []*schema.Task) string {
	if len(tasks) == 0 {
		return RenderMuted("No tasks.") + "\n"
	}

	var b strings.Builder
	width := len(fmt.Sprint(len(tasks)))
	for i, t := range tasks {
		marker := " "
		if t.IsPinned {
			marker = pinStyle.Render("*")
		}
		fmt.Fprintf(&b, "%*d. %s %s %s", width, i+1, marker, RenderMuted(ShortID(t.UUID)), t.Content)
		for _, tag := range t.Tags {
			b.WriteString(" " + tagStyle.Render("#"+tag))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// TaskDetail renders every field of a task.
func TaskDetail(t *schema.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", RenderAccent("Task"), t.UUID)
	fmt.Fprintf(&b, "  Content: %s\n", t.Content)
	if len(t.Tags) > 0 {
		fmt.Fprintf(&b, "  Tags:    %s\n", strings.Join(t.Tags, ", "))
	}
	fmt.Fprintf(&b, "  Pinned:  %t\n", t.IsPinned)
	fmt.Fprintf(&b, "  Created: %s\n", t.CreatedAt.Format(time.DateTime))
	fmt.Fprintf(&b, "  Updated: %s\n", t.UpdatedAt.Format(time.DateTime))
	return b.String()
}
