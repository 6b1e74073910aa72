package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/vifly/tasksApp/internal/schema"
)

func plain(t *testing.T) {
	t.Helper()
	SetOutput(&bytes.Buffer{})
	DisableColor()
}

func TestDisableColor(t *testing.T) {
	plain(t)
	for _, render := range []func(string) string{RenderAccent, RenderPass, RenderWarn, RenderFail, RenderMuted} {
		if got := render("ok"); got != "ok" {
			t.Errorf("expected plain text, got %q", got)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("ShortID = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID = %q", got)
	}
}

func TestTaskList(t *testing.T) {
	plain(t)
	now := time.UnixMilli(1_700_000_000_000)
	tasks := []*schema.Task{
		{UUID: "aaaaaaaa-1111", Content: "Pay rent", IsPinned: true, CreatedAt: now, UpdatedAt: now},
		{UUID: "bbbbbbbb-2222", Content: "Buy milk", Tags: []string{"home"}, CreatedAt: now, UpdatedAt: now},
	}

	out := TaskList(tasks)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), out)
	}
	if lines[0] != "1. * aaaaaaaa Pay rent" {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if lines[1] != "2.   bbbbbbbb Buy milk #home" {
		t.Errorf("unexpected second line %q", lines[1])
	}

	if got := TaskList(nil); got != "No tasks.\n" {
		t.Errorf("unexpected empty list %q", got)
	}
}

func TestTaskDetail(t *testing.T) {
	plain(t)
	now := time.UnixMilli(1_700_000_000_000)
	out := TaskDetail(&schema.Task{UUID: "u1", Content: "Buy milk", Tags: []string{"home", "errand"}, CreatedAt: now, UpdatedAt: now})
	for _, want := range []string{"Task u1", "Content: Buy milk", "Tags:    home, errand", "Pinned:  false"} {
		if !strings.Contains(out, want) {
			t.Errorf("detail missing %q:\n%s", want, out)
		}
	}
}
