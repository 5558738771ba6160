package unwind

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
	"unicode/utf8"

	"github.com/VladMinzatu/selfsym/internal/symbolizer"
)

// DefaultDepth is the number of frames printed when Options.Depth is unset.
const DefaultDepth = 10

const unknownSymbol = "(???)"

// Options configures one traceback. The zero value prints up to DefaultDepth
// frames of the caller's stack to stderr.
type Options struct {
	Depth    int
	Writer   io.Writer
	Unwinder Unwinder
	Metrics  *symbolizer.Metrics
}

func (o Options) withDefaults() Options {
	if o.Depth <= 0 {
		o.Depth = DefaultDepth
	}
	if o.Writer == nil {
		o.Writer = os.Stderr
	}
	if o.Unwinder == nil {
		// leave out Trace and PrintTraceback
		o.Unwinder = RuntimeUnwinder{Skip: 2}
	}
	return o
}

// Frame is one printed frame.
type Frame struct {
	Depth   int
	IP      uint64
	SymAddr uint64
	Symbol  symbolizer.Symbol
	Found   bool
}

// Resolver looks up the symbol covering an address.
type Resolver interface {
	Lookup(addr uint64) (symbolizer.Symbol, bool, error)
}

type symbolTable interface {
	Resolver
	Close() error
}

var newSymbolTable = func(m *symbolizer.Metrics) (symbolTable, error) {
	t, err := symbolizer.NewSymbolTable()
	if err != nil {
		return nil, err
	}
	t.SetMetrics(m)
	return t, nil
}

// Some platforms resolve the return address itself rather than the start of
// its enclosing function.
var lookupByIP = runtime.GOOS == "darwin" || runtime.GOOS == "ios"

// PrintTraceback prints the caller's stack. Only failing to load the process'
// modules is returned; errors while printing end the walk early.
func PrintTraceback(opts Options) error {
	_, err := trace(opts)
	return err
}

// Trace is PrintTraceback that also returns the printed frames.
func Trace(opts Options) ([]Frame, error) {
	return trace(opts)
}

func trace(opts Options) ([]Frame, error) {
	opts = opts.withDefaults()
	table, err := newSymbolTable(opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("building symbol table: %w", err)
	}
	defer table.Close()

	tc := &traceContext{
		w:          opts.Writer,
		limit:      opts.Depth,
		resolver:   table,
		lookupByIP: lookupByIP,
	}
	r := opts.Unwinder.Backtrace(tc.frame)
	slog.Debug("Traceback done", "frames", len(tc.frames), "depth", tc.depth, "reason", r)
	return tc.frames, nil
}

// traceContext is the state of one walk.
type traceContext struct {
	w          io.Writer
	depth      int
	limit      int
	resolver   Resolver
	lookupByIP bool
	frames     []Frame
}

func (c *traceContext) frame(fc FrameContext) Reason {
	ip, beforeInsn := fc.IP()
	if ip != 0 && !beforeInsn {
		// return address: step back into the call instruction
		ip--
	}
	symAddr := ip
	if !c.lookupByIP {
		symAddr = fc.EnclosingFunction(ip)
	}

	if c.depth == c.limit {
		return ReasonFailure
	}
	if err := c.printFrame(ip, symAddr); err != nil {
		fmt.Fprintf(c.w, "error during frame print: %v\n", err)
		return ReasonFailure
	}
	c.depth++
	return ReasonNoReason
}

func (c *traceContext) printFrame(ip, symAddr uint64) error {
	if symAddr == 0 {
		return nil
	}
	slog.Debug("Frame", "depth", c.depth, "ip", fmt.Sprintf("%#x", ip), "symaddr", fmt.Sprintf("%#x", symAddr))

	if _, err := fmt.Fprintf(c.w, "[depth %d/%d] ", c.depth, c.limit); err != nil {
		return err
	}
	sym, found, err := c.resolver.Lookup(symAddr)
	if err != nil {
		return err
	}
	switch {
	case !found:
		_, err = io.WriteString(c.w, unknownSymbol)
	case utf8.ValidString(sym.Name):
		_, err = fmt.Fprintf(c.w, "`%s`", sym.Name)
	}
	if err != nil {
		return err
	}
	if _, err := io.WriteString(c.w, "\n"); err != nil {
		return err
	}

	c.frames = append(c.frames, Frame{Depth: c.depth, IP: ip, SymAddr: symAddr, Symbol: sym, Found: found})
	return nil
}

// Capture is one traceback taken at a point in time.
type Capture struct {
	Time   time.Time
	Frames []Frame
}
