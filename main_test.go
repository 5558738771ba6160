package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/pprof/profile"
	"gotest.tools/v3/assert"
)

func runRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// buildDemo builds the command with a regular go build. Test binaries are linked
// without .symtab, so the traceback is only fully symbolized in a real build.
func buildDemo(t *testing.T) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("module enumeration reads /proc")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not in PATH")
	}
	bin := filepath.Join(t.TempDir(), "selfsym")
	out, err := exec.Command(goBin, "build", "-o", bin, ".").CombinedOutput()
	assert.NilError(t, err, "go build: %s", out)
	return bin
}

func runDemo(t *testing.T, bin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(bin, args...)
	cmd.Env = append(os.Environ(), "DEBUG=false")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand_PrintsTraceback(t *testing.T) {
	bin := buildDemo(t)
	stdout, stderr, err := runDemo(t, bin, "--depth", "4")
	assert.NilError(t, err)
	assert.Equal(t, stdout, "ok\n")

	lines := strings.Split(strings.TrimSuffix(stderr, "\n"), "\n")
	assert.Assert(t, len(lines) >= 2 && len(lines) <= 4, "got %q", stderr)
	assert.Assert(t, strings.HasPrefix(lines[0], "[depth 0/4] `main.hotFunc`"), "got %q", lines[0])
	assert.Assert(t, strings.HasPrefix(lines[1], "[depth 1/4] `main.hotCaller`"), "got %q", lines[1])
}

func TestRootCommand_Exports(t *testing.T) {
	bin := buildDemo(t)
	dir := t.TempDir()
	pprofPath := filepath.Join(dir, "trace.pb.gz")
	otlpPath := filepath.Join(dir, "trace.otlp")
	foldedPath := filepath.Join(dir, "trace.folded")
	metricsPath := filepath.Join(dir, "selfsym.prom")

	stdout, _, err := runDemo(t, bin, "--samples", "2", "--interval", "5ms", "--pprof", pprofPath, "--otlp", otlpPath, "--folded", foldedPath, "--metrics", metricsPath)
	assert.NilError(t, err)
	assert.Equal(t, stdout, "ok\n")

	f, err := os.Open(pprofPath)
	assert.NilError(t, err)
	defer f.Close()
	prof, err := profile.Parse(f)
	assert.NilError(t, err)
	assert.Equal(t, len(prof.Sample), 3)

	folded, err := os.ReadFile(foldedPath)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(folded), "main.hotCaller;main.hotFunc"), "got %q", folded)

	info, err := os.Stat(otlpPath)
	assert.NilError(t, err)
	assert.Assert(t, info.Size() > 0)

	metrics, err := os.ReadFile(metricsPath)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(metrics), `selfsym_symbol_lookups_total{status="resolved"}`), "got %q", metrics)
}

func TestRootCommand_RejectsArgs(t *testing.T) {
	_, _, err := runRoot(t, "extra")
	assert.ErrorContains(t, err, "unknown command")
}
