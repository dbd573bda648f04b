package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTableEmptyPrintsNothing(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, "DEVICE", "STATUS")
	tbl.Flush()
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q, want no output", buf.String())
	}
}

func TestTableHeadersOnFirstRow(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, "DEVICE", "STATUS")
	tbl.Row("zwe-r1", "completed")
	tbl.Row("zwe-r2", "failed")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4 (headers, divider, 2 rows):\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "DEVICE") || !strings.Contains(lines[0], "STATUS") {
		t.Errorf("header line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "------") {
		t.Errorf("divider line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "zwe-r1") {
		t.Errorf("row line = %q", lines[2])
	}
}

func TestTableColumnsAligned(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, "A", "B")
	tbl.Row("short", "x")
	tbl.Row("much-longer-value", "y")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	xCol := strings.Index(lines[2], "x")
	yCol := strings.Index(lines[3], "y")
	if xCol != yCol {
		t.Errorf("second column misaligned: x at %d, y at %d\n%s", xCol, yCol, buf.String())
	}
}

func TestTablePrefix(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, "A").WithPrefix("  ")
	tbl.Row("v")
	tbl.Flush()

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if !strings.HasPrefix(line, "  ") {
			t.Errorf("line %q missing prefix", line)
		}
	}
}
