package vm

import (
	"context"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Dispatcher: routes events to handlers
// ---------------------------------------------------------------------------

// Reentrancy decides what happens to an event delivered while another
// dispatch cycle is running.
type Reentrancy uint8

const (
	// ReentrancyDrop discards the event.
	ReentrancyDrop Reentrancy = iota
	// ReentrancyQueue runs the event after the current cycle finishes.
	ReentrancyQueue
)

func (r Reentrancy) String() string {
	if r == ReentrancyQueue {
		return "queue"
	}
	return "drop"
}

// ParseReentrancy accepts "drop" or "queue".
func ParseReentrancy(s string) (Reentrancy, error) {
	switch FoldName(s) {
	case "", "drop":
		return ReentrancyDrop, nil
	case "queue":
		return ReentrancyQueue, nil
	}
	return ReentrancyDrop, fmt.Errorf("unknown reentrancy policy %q", s)
}

// DispatchState is the dispatcher's position in a cycle.
type DispatchState uint8

const (
	StateIdle DispatchState = iota
	StateMatching
	StateExecuting
)

func (s DispatchState) String() string {
	switch s {
	case StateMatching:
		return "matching"
	case StateExecuting:
		return "executing"
	}
	return "idle"
}

// Dispatcher matches events to handlers and runs them to completion.
type Dispatcher struct {
	vm      *VM
	policy  Reentrancy
	state   DispatchState
	queue   []Event
	dropped int
}

func newDispatcher(vm *VM, policy Reentrancy) *Dispatcher {
	return &Dispatcher{vm: vm, policy: policy}
}

// State returns the current state.
func (d *Dispatcher) State() DispatchState { return d.state }

// Dropped returns the number of events discarded by ReentrancyDrop.
func (d *Dispatcher) Dropped() int { return d.dropped }

// Reentrancy returns the policy for events delivered mid-cycle.
func (d *Dispatcher) Reentrancy() Reentrancy { return d.policy }

// Dispatch delivers ev. Events with no matching handler are ignored.
// The result joins the fatal errors of every cycle run by this call;
// a failed cycle never prevents later ones.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if d.state != StateIdle {
		if d.policy == ReentrancyQueue {
			d.queue = append(d.queue, ev)
			d.vm.log.Debug("event queued", "event", ev.String())
			return nil
		}
		d.dropped++
		d.vm.log.Debug("event dropped", "event", ev.String())
		return nil
	}

	var errs []error
	errs = append(errs, d.cycle(ctx, ev))
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		errs = append(errs, d.cycle(ctx, next))
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) cycle(ctx context.Context, ev Event) error {
	d.state = StateMatching
	defer func() { d.state = StateIdle }()

	name := ev.Kind.HandlerName()
	var target *HandlerRef
	if ev.Target != 0 {
		if s, ok := d.vm.entityScripts[ev.Target]; ok {
			if h, ok := s.Handler(name); ok {
				target = &HandlerRef{Script: s, Info: h}
			}
		}
	}
	movie, _ := d.vm.movieHandler(name)
	if target == nil && movie == nil {
		return nil
	}

	d.state = StateExecuting
	in := d.vm.interp
	args := ev.args()
	if target != nil {
		in.passed = false
		if _, err := in.callHandler(ctx, target, args); err != nil {
			return err
		}
		if !in.passed || movie == nil {
			return nil
		}
	}
	in.passed = false
	_, err := in.callHandler(ctx, movie, args)
	return err
}
