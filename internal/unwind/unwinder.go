// Package unwind walks the calling goroutine's stack and prints one symbolized
// line per frame.
package unwind

import "runtime"

// Reason is returned by a frame callback and by Unwinder.Backtrace.
type Reason int

const (
	// ReasonNoReason continues the walk.
	ReasonNoReason Reason = iota
	// ReasonEndOfStack reports that every frame was visited.
	ReasonEndOfStack
	// ReasonFailure stops the walk.
	ReasonFailure
)

func (r Reason) String() string {
	switch r {
	case ReasonNoReason:
		return "no reason"
	case ReasonEndOfStack:
		return "end of stack"
	case ReasonFailure:
		return "failure"
	}
	return "unknown"
}

// FrameContext is the per-frame handle passed to the callback.
type FrameContext interface {
	// IP returns the frame's instruction pointer and whether it already points
	// before the call instruction rather than at the return address.
	IP() (ip uint64, beforeInsn bool)
	// EnclosingFunction returns the start of the function containing ip, or 0.
	EnclosingFunction(ip uint64) uint64
}

// Unwinder walks the stack from the caller outwards, calling fn once per frame
// until fn returns something other than ReasonNoReason.
type Unwinder interface {
	Backtrace(fn func(FrameContext) Reason) Reason
}

const maxRuntimeFrames = 256

// RuntimeUnwinder walks the goroutine stack with runtime.Callers.
type RuntimeUnwinder struct {
	// Skip is the number of frames above the caller of Backtrace to leave out.
	Skip int
}

func (u RuntimeUnwinder) Backtrace(fn func(FrameContext) Reason) Reason {
	pcs := make([]uintptr, maxRuntimeFrames)
	// 0 is runtime.Callers, 1 is Backtrace
	n := runtime.Callers(2+u.Skip, pcs)
	for _, pc := range pcs[:n] {
		if r := fn(runtimeFrame(pc)); r != ReasonNoReason {
			return r
		}
	}
	return ReasonEndOfStack
}

// runtimeFrame is a return address reported by runtime.Callers.
type runtimeFrame uintptr

func (f runtimeFrame) IP() (uint64, bool) { return uint64(f), false }

func (f runtimeFrame) EnclosingFunction(ip uint64) uint64 {
	fn := runtime.FuncForPC(uintptr(ip))
	if fn == nil {
		return 0
	}
	return uint64(fn.Entry())
}
