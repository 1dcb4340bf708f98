package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/lingo/vm"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("vm worker stopped")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*vm.VM) (any, error)
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker serializes all VM access through a single goroutine.
// The interpreter is single-threaded; every RPC, LSP request and frame
// tick goes through the worker.
type VMWorker struct {
	vm       *vm.VM
	requests chan vmRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(v *vm.VM) *VMWorker {
	w := &VMWorker{
		vm:       v,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics.
func (w *VMWorker) execute(fn func(*vm.VM) (any, error)) (result vmResult) {
	defer func() {
		if r := recover(); r != nil {
			result = vmResult{err: fmt.Errorf("vm worker: %v", r)}
		}
	}()
	v, err := fn(w.vm)
	return vmResult{value: v, err: err}
}

// Do submits fn for execution on the VM goroutine and blocks until it
// completes. If ctx ends before the work is accepted, Do returns
// ctx.Err() without running fn; once running, fn should pass ctx on to
// the VM so that cancellation interrupts the script.
func (w *VMWorker) Do(ctx context.Context, fn func(*vm.VM) (any, error)) (any, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
}

// doTyped is Do with a typed result.
func doTyped[T any](ctx context.Context, w *VMWorker, fn func(*vm.VM) (T, error)) (T, error) {
	v, err := w.Do(ctx, func(v *vm.VM) (any, error) { return fn(v) })
	t, _ := v.(T)
	return t, err
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// Dispatch delivers ev on the worker goroutine.
func (w *VMWorker) Dispatch(ctx context.Context, ev vm.Event) error {
	_, err := w.Do(ctx, func(v *vm.VM) (any, error) {
		return nil, v.Dispatch(ctx, ev)
	})
	return err
}

// FrameEvents are dispatched in order once per frame.
var FrameEvents = []vm.EventKind{vm.EventPrepareFrame, vm.EventEnterFrame, vm.EventExitFrame}

// RunFrames plays the movie at tempo frames per second, dispatching
// FrameEvents on every tick. It stops after frames frames, or when ctx
// ends if frames is 0, and returns the number of frames played. Script
// errors are logged by the VM and do not stop playback.
func (w *VMWorker) RunFrames(ctx context.Context, tempo, frames int) (int, error) {
	if tempo <= 0 {
		return 0, fmt.Errorf("tempo must be positive, got %d", tempo)
	}
	ticker := time.NewTicker(time.Second / time.Duration(tempo))
	defer ticker.Stop()

	played := 0
	for frames == 0 || played < frames {
		for _, kind := range FrameEvents {
			err := w.Dispatch(ctx, vm.Event{Kind: kind})
			if errors.Is(err, ErrWorkerStopped) || ctx.Err() != nil {
				return played, nil
			}
		}
		played++
		if frames != 0 && played == frames {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return played, nil
		case <-w.quit:
			return played, nil
		}
	}
	return played, nil
}
