package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/VladMinzatu/selfsym/internal/envutil"
	"github.com/VladMinzatu/selfsym/internal/exporter"
	"github.com/VladMinzatu/selfsym/internal/pprof"
	"github.com/VladMinzatu/selfsym/internal/profiler"
	"github.com/VladMinzatu/selfsym/internal/symbolizer"
	"github.com/VladMinzatu/selfsym/internal/unwind"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var logLevel = new(slog.LevelVar)

func main() {
	logHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(logHandler))
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("exiting with an error", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "selfsym",
		Short:         "Print a symbolized traceback of this process",
		Args:          cobra.NoArgs,
		RunE:          action,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.Flags()
	flags.Bool("debug", envutil.Bool("DEBUG", false), "debug mode [$DEBUG]")
	flags.Int("depth", envutil.Int("SELFSYM_DEPTH", unwind.DefaultDepth), "maximum number of frames per traceback [$SELFSYM_DEPTH]")
	flags.Int("samples", 0, "number of additional tracebacks to capture from a busy workload")
	flags.Duration("interval", 10*time.Millisecond, "interval between captured tracebacks")
	flags.String("pprof", "", "write the captured tracebacks as a gzipped pprof profile")
	flags.String("otlp", "", "write the captured tracebacks as an OTLP profiles export request")
	flags.String("folded", "", "write the captured tracebacks as folded stacks")
	flags.String("metrics", "", "write symbol lookup metrics in the Prometheus text format")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			logLevel.Set(slog.LevelDebug)
		}
		return nil
	}
	return cmd
}

func action(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	depth, err := flags.GetInt("depth")
	if err != nil {
		return err
	}
	samples, err := flags.GetInt("samples")
	if err != nil {
		return err
	}
	interval, err := flags.GetDuration("interval")
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics, err := symbolizer.NewMetrics("selfsym", reg)
	if err != nil {
		return err
	}

	frames, err := hotCaller(unwind.Options{Depth: depth, Writer: cmd.ErrOrStderr(), Metrics: metrics})
	if err != nil {
		return err
	}
	captures := []unwind.Capture{{Time: time.Now(), Frames: frames}}

	if samples > 0 {
		opts := unwind.Options{Depth: depth, Writer: io.Discard, Metrics: metrics}
		more, err := collectCaptures(samples, interval, opts)
		if err != nil {
			return err
		}
		captures = append(captures, more...)
	}

	if err := writeExports(flags.Lookup("pprof").Value.String(), flags.Lookup("otlp").Value.String(), flags.Lookup("folded").Value.String(), captures); err != nil {
		return err
	}
	if path := flags.Lookup("metrics").Value.String(); path != "" {
		if err := prometheus.WriteToTextfile(path, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
		slog.Info("Wrote metrics", "path", path)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func collectCaptures(n int, interval time.Duration, opts unwind.Options) ([]unwind.Capture, error) {
	tracer := profiler.TracerFunc(func() ([]unwind.Frame, error) {
		return hotCaller(opts)
	})
	p, err := profiler.NewProfiler(interval, tracer)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, err
	}

	defer p.Stop()

	var captures []unwind.Capture
	timeout := time.After(time.Duration(n)*interval + 5*time.Second)
	for len(captures) < n {
		select {
		case c := <-p.Captures():
			captures = append(captures, c)
		case <-timeout:
			return nil, fmt.Errorf("captured %d of %d tracebacks before timing out", len(captures), n)
		}
	}
	slog.Debug("Collected tracebacks", "count", len(captures))
	return captures, nil
}

func writeExports(pprofPath, otlpPath, foldedPath string, captures []unwind.Capture) error {
	if pprofPath != "" {
		prof, err := pprof.BuildPprofProfile(captures, "tracebacks", "count")
		if err != nil {
			return fmt.Errorf("building pprof profile: %w", err)
		}
		f, err := os.Create(pprofPath)
		if err != nil {
			return err
		}
		if err := pprof.WriteProfileGzip(prof, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		slog.Info("Wrote pprof profile", "path", pprofPath)
	}
	if otlpPath != "" {
		data := exporter.BuildOltpProfile(captures, os.Getpid(), func() uint64 { return uint64(time.Now().UnixNano()) })
		if err := exporter.WriteExportRequestToFile(data, otlpPath); err != nil {
			return err
		}
		slog.Info("Wrote OTLP profile", "path", otlpPath)
	}
	if foldedPath != "" {
		if err := exporter.WriteFoldedStacksToFile(exporter.BuildFoldedStacks(captures, exporter.AllFrames), foldedPath); err != nil {
			return err
		}
		slog.Info("Wrote folded stacks", "path", foldedPath)
	}
	return nil
}

//go:noinline
func hotFunc(opts unwind.Options) ([]unwind.Frame, error) {
	for i := 0; i < 1000; i++ {
		_ = i * i
	}
	return unwind.Trace(opts)
}

//go:noinline
func hotCaller(opts unwind.Options) ([]unwind.Frame, error) {
	return hotFunc(opts)
}
