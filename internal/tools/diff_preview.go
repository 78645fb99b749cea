package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	editDiffMaxLines = 80
	editDiffMaxBytes = 8000
	// above this many line pairs the changed block is shown as delete-then-add
	editDiffMaxCells = 1 << 18
)

// editDiff 描述 editFile 整文件替换前后的差异
// editDiff summarizes what a whole-file editFile replacement changed
type editDiff struct {
	Text      string
	Additions int
	Deletions int
	Truncated bool
}

type diffOp struct {
	kind byte // ' ', '-' or '+'
	line string
}

// diffEdit compares the old and new file contents line by line. Only the
// changed region is rendered, with one line of context on either side.
func diffEdit(path, before, after string) editDiff {
	a := splitLines(normalizeNewlines(before))
	b := splitLines(normalizeNewlines(after))

	head := 0
	for head < len(a) && head < len(b) && a[head] == b[head] {
		head++
	}
	tail := 0
	for tail < len(a)-head && tail < len(b)-head && a[len(a)-1-tail] == b[len(b)-1-tail] {
		tail++
	}

	var d editDiff
	name := diffPath(path)
	lines := []string{"--- " + name, "+++ " + name}
	if head > 0 {
		lines = append(lines, " "+a[head-1])
	}
	for _, op := range lineOps(a[head:len(a)-tail], b[head:len(b)-tail]) {
		switch op.kind {
		case '-':
			d.Deletions++
		case '+':
			d.Additions++
		}
		lines = append(lines, string(op.kind)+op.line)
	}
	if d.Additions == 0 && d.Deletions == 0 {
		return editDiff{}
	}
	if tail > 0 {
		lines = append(lines, " "+a[len(a)-tail])
	}
	d.Text, d.Truncated = clipDiff(lines)
	return d
}

// lineOps aligns two line slices on their longest common subsequence.
func lineOps(a, b []string) []diffOp {
	ops := make([]diffOp, 0, len(a)+len(b))
	if len(a)*len(b) > editDiffMaxCells {
		for _, l := range a {
			ops = append(ops, diffOp{'-', l})
		}
		for _, l := range b {
			ops = append(ops, diffOp{'+', l})
		}
		return ops
	}

	// common[i][j] is the LCS length of a[i:] and b[j:]
	common := make([][]int, len(a)+1)
	for i := range common {
		common[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				common[i][j] = common[i+1][j+1] + 1
			} else {
				common[i][j] = max(common[i+1][j], common[i][j+1])
			}
		}
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			ops = append(ops, diffOp{' ', a[i]})
			i++
			j++
		case common[i+1][j] >= common[i][j+1]:
			ops = append(ops, diffOp{'-', a[i]})
			i++
		default:
			ops = append(ops, diffOp{'+', b[j]})
			j++
		}
	}
	for ; i < len(a); i++ {
		ops = append(ops, diffOp{'-', a[i]})
	}
	for ; j < len(b); j++ {
		ops = append(ops, diffOp{'+', b[j]})
	}
	return ops
}

func clipDiff(lines []string) (string, bool) {
	truncated := false
	hidden := 0
	if len(lines) > editDiffMaxLines {
		hidden = len(lines) - editDiffMaxLines
		lines = lines[:editDiffMaxLines]
		truncated = true
	}
	out := strings.Join(lines, "\n")
	if len(out) > editDiffMaxBytes {
		out = out[:editDiffMaxBytes]
		if cut := strings.LastIndexByte(out, '\n'); cut > 0 {
			out = out[:cut]
		}
		truncated = true
	}
	if truncated {
		if hidden > 0 {
			out += fmt.Sprintf("\n... (diff truncated, %d more lines)", hidden)
		} else {
			out += "\n... (diff truncated)"
		}
	}
	return out, truncated
}

func diffPath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "file"
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if p == "." {
		return "file"
	}
	return p
}

func normalizeNewlines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}
