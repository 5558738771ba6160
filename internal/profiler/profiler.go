// Package profiler periodically captures symbolized tracebacks.
package profiler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/VladMinzatu/selfsym/internal/unwind"
)

// Tracer takes one symbolized traceback.
type Tracer interface {
	Trace() ([]unwind.Frame, error)
}

type TracerFunc func() ([]unwind.Frame, error)

func (f TracerFunc) Trace() ([]unwind.Frame, error) { return f() }

type Profiler struct {
	collectInterval time.Duration
	tracer          Tracer

	capturesCh chan unwind.Capture

	started bool
	stopped bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewProfiler(collectInterval time.Duration, tracer Tracer) (*Profiler, error) {
	if collectInterval <= 1*time.Millisecond {
		return nil, errors.New("invalid collectInterval; must be > 1ms")
	}
	if tracer == nil {
		return nil, errors.New("tracer is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Profiler{
		collectInterval: collectInterval,
		tracer:          tracer,
		ctx:             ctx,
		cancel:          cancel,
		capturesCh:      make(chan unwind.Capture, 1),
	}, nil
}

// Captures is closed by Stop.
func (p *Profiler) Captures() <-chan unwind.Capture { return p.capturesCh }

func (p *Profiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("profiler already started")
	}
	if p.stopped {
		return errors.New("profiler already stopped")
	}
	p.started = true

	p.wg.Add(1)
	go p.collector()
	return nil
}

func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	p.cancel()

	// Wait for collector to exit
	p.wg.Wait()
	close(p.capturesCh)
	p.started = false
	return nil
}

func (p *Profiler) collector() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.collectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-ticker.C:
			frames, err := p.tracer.Trace()
			if err != nil {
				slog.Warn("Failed to capture traceback", "error", err)
				continue
			}

			select {
			case p.capturesCh <- unwind.Capture{Time: t, Frames: frames}:
			default:
				slog.Warn("consumer wasn't ready, capture dropped")
			}
		}
	}
}
