package tools

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiffEditReplacesMiddleLine(t *testing.T) {
	d := diffEdit("./notes/todo.md", "a\nb\nc\nd\n", "a\nb\nX\nd\n")
	want := strings.Join([]string{
		"--- notes/todo.md",
		"+++ notes/todo.md",
		" b",
		"-c",
		"+X",
		" d",
	}, "\n")
	if diff := cmp.Diff(want, d.Text); diff != "" {
		t.Fatalf("diff text mismatch (-want +got):\n%s", diff)
	}
	if d.Additions != 1 || d.Deletions != 1 || d.Truncated {
		t.Fatalf("stats=%+v", d)
	}
}

func TestDiffEditKeepsCommonLinesInsideChange(t *testing.T) {
	d := diffEdit("a.txt", "one\nkeep\ntwo\n", "uno\nkeep\ndos\n")
	if d.Additions != 2 || d.Deletions != 2 {
		t.Fatalf("stats: +%d -%d", d.Additions, d.Deletions)
	}
	if !strings.Contains(d.Text, "\n keep\n") {
		t.Fatalf("shared line should stay as context: %q", d.Text)
	}
}

func TestDiffEditNewFileAndUnchanged(t *testing.T) {
	created := diffEdit("new.txt", "", "hello\nworld\n")
	if created.Additions != 2 || created.Deletions != 0 {
		t.Fatalf("created stats: %+v", created)
	}
	if got := diffEdit("same.txt", "x\r\ny\r\n", "x\ny\n"); got != (editDiff{}) {
		t.Fatalf("line-ending-only change should be empty, got %+v", got)
	}
}

func TestDiffEditTruncatesLargeRewrite(t *testing.T) {
	var after strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&after, "line %d\n", i)
	}
	d := diffEdit("big.txt", "", after.String())
	if !d.Truncated || d.Additions != 200 {
		t.Fatalf("stats=%+v", d)
	}
	if !strings.HasSuffix(d.Text, "(diff truncated, 122 more lines)") {
		t.Fatalf("missing truncation marker: %q", d.Text[len(d.Text)-60:])
	}
}

func TestDiffPath(t *testing.T) {
	for in, want := range map[string]string{"": "file", ".": "file", " ./a/../b.txt ": "b.txt", "/tmp/x": "/tmp/x"} {
		if got := diffPath(in); got != want {
			t.Errorf("diffPath(%q)=%q, want %q", in, got, want)
		}
	}
}
