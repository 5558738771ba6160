package exporter

import (
	"bufio"
	"os"
	"testing"
	"time"

	"github.com/VladMinzatu/selfsym/internal/symbolizer"
	"github.com/VladMinzatu/selfsym/internal/unwind"
)

func resolved(depth int, ip uint64, name string) unwind.Frame {
	return unwind.Frame{
		Depth:  depth,
		IP:     ip,
		Symbol: symbolizer.Symbol{Name: name, Addr: ip, Module: "/bin/app"},
		Found:  true,
	}
}

func unresolved(depth int, ip uint64) unwind.Frame {
	return unwind.Frame{Depth: depth, IP: ip, Symbol: symbolizer.Symbol{Addr: ip}}
}

func TestBuildFoldedStacks_AggregationAndOrder(t *testing.T) {
	now := time.Now()
	c1 := unwind.Capture{Time: now, Frames: []unwind.Frame{resolved(0, 0x100, "A"), resolved(1, 0x200, "B")}}
	c2 := unwind.Capture{Time: now.Add(time.Millisecond), Frames: []unwind.Frame{resolved(0, 0x100, "A"), resolved(1, 0x200, "B")}}
	agg := BuildFoldedStacks([]unwind.Capture{c1, c2}, AllFrames)
	if len(agg) != 1 {
		t.Fatalf("expected 1 aggregated entry, got %d", len(agg))
	}

	var key string
	for k := range agg {
		key = k
	}
	if key != "B;A" {
		t.Fatalf("unexpected folded key: %q (want B;A)", key)
	}
	if agg[key] != 2 {
		t.Fatalf("unexpected aggregated count: %d (want 2)", agg[key])
	}
}

func TestBuildFoldedStacks_Selection(t *testing.T) {
	c := unwind.Capture{Frames: []unwind.Frame{resolved(0, 0x100, "leaf"), unresolved(1, 0x200), resolved(2, 0x300, "root")}}
	tests := []struct {
		name  string
		which FrameSelection
		want  string
	}{
		{"all frames", AllFrames, "root;<unknown>;leaf"},
		{"resolved frames", ResolvedFrames, "root;leaf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := BuildFoldedStacks([]unwind.Capture{c}, tt.which)
			if agg[tt.want] != 1 || len(agg) != 1 {
				t.Fatalf("expected {%q: 1}, got %v", tt.want, agg)
			}
		})
	}
}

func TestBuildFoldedStacks_SkipsEmpty(t *testing.T) {
	c := unwind.Capture{Frames: []unwind.Frame{unresolved(0, 0x100)}}
	if agg := BuildFoldedStacks([]unwind.Capture{c, {}}, ResolvedFrames); len(agg) != 0 {
		t.Fatalf("expected no stacks, got %v", agg)
	}
}

func TestBuildFoldedStacks_Escaping(t *testing.T) {
	c := unwind.Capture{Frames: []unwind.Frame{resolved(0, 0x10, "Leaf;Name"), resolved(1, 0x20, "Root\nName")}}
	agg := BuildFoldedStacks([]unwind.Capture{c}, AllFrames)
	if len(agg) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(agg))
	}
	if agg["Root Name;Leaf_Name"] != 1 {
		t.Fatalf("unexpected escaping: %v", agg)
	}
}

func TestWriteFoldedStacksToFile(t *testing.T) {
	agg := map[string]uint64{
		"root;leaf": 10,
		"r;l":       5,
	}
	tmp := t.TempDir() + "/folded.txt"
	if err := WriteFoldedStacksToFile(agg, tmp); err != nil {
		t.Fatalf("WriteFoldedStacksToFile failed: %v", err)
	}
	f, err := os.Open(tmp)
	if err != nil {
		t.Fatalf("open tmp file: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lines := []string{}
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "root;leaf 10" || lines[1] != "r;l 5" {
		t.Fatalf("expected lines sorted by count, got %q", lines)
	}
}
