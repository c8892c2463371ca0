// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package hook

import (
	"fmt"
	"sync"

	"github.com/ManuGH/aircheck/internal/event"
	"github.com/ManuGH/aircheck/internal/log"
	"github.com/ManuGH/aircheck/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultPoolSize is the number of invoker workers when the configuration
// does not say otherwise.
const DefaultPoolSize = 2

// Failure reports a hook whose execution returned an error.
type Failure struct {
	Description string
	Err         error
}

// EventSource exposes named hook-argument emitters; the recorder implements
// it so the invoker can translate recorder events into hook invocations.
type EventSource interface {
	HookEmitter(name string) *event.Emitter[Args]
}

type registration struct {
	hook        Hook
	description string
}

type task struct {
	name        string
	description string
	hook        Hook
	args        Args
}

// Invoker runs hooks in a fixed-size worker pool so slow hooks never stall
// the scheduler's tick.
type Invoker struct {
	// Failure fires on the invoker whenever a hook call returns an error.
	Failure event.Emitter[Failure]

	mu      sync.Mutex
	buckets map[string][]registration

	queueMu  sync.Mutex
	notEmpty *sync.Cond
	queue    []task
	stopping bool

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewInvoker creates the registry and starts poolSize workers.
func NewInvoker(poolSize int) *Invoker {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	inv := &Invoker{
		buckets: make(map[string][]registration),
		logger:  log.WithComponent("hooks"),
	}
	inv.notEmpty = sync.NewCond(&inv.queueMu)

	inv.wg.Add(poolSize)
	for i := 0; i < poolSize; i++ {
		go inv.worker(i + 1)
	}
	return inv
}

// Declare creates an empty bucket for the given hook name. Declaring a name
// twice is an error.
func (inv *Invoker) Declare(name string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if _, exists := inv.buckets[name]; exists {
		return fmt.Errorf("a hook named %q has already been created", name)
	}
	inv.buckets[name] = nil
	return nil
}

// Register appends a hook to the named bucket. The name must have been
// declared.
func (inv *Invoker) Register(name string, h Hook, description string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	bucket, exists := inv.buckets[name]
	if !exists {
		return fmt.Errorf("no hook named %q has been registered", name)
	}
	inv.buckets[name] = append(bucket, registration{hook: h, description: description})
	return nil
}

// Clear empties every bucket but keeps the declared names.
func (inv *Invoker) Clear() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for name := range inv.buckets {
		inv.buckets[name] = nil
	}
}

// Invoke enqueues one task per hook registered under name. The bucket is
// snapshotted under the registry lock, so concurrent Clear/Register calls
// see a consistent cut.
func (inv *Invoker) Invoke(name string, args Args) error {
	inv.mu.Lock()
	bucket, exists := inv.buckets[name]
	if !exists {
		inv.mu.Unlock()
		return fmt.Errorf("no hook named %q has been registered", name)
	}
	snapshot := make([]registration, len(bucket))
	copy(snapshot, bucket)
	inv.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	inv.queueMu.Lock()
	for _, reg := range snapshot {
		inv.queue = append(inv.queue, task{
			name:        name,
			description: fmt.Sprintf("%s/%s", name, reg.description),
			hook:        reg.hook,
			args:        args,
		})
	}
	if len(snapshot) == 1 {
		inv.notEmpty.Signal()
	} else {
		inv.notEmpty.Broadcast()
	}
	inv.queueMu.Unlock()

	return nil
}

// BindEvents subscribes this invoker to the identically named event of every
// declared hook, forwarding event arguments to Invoke.
func (inv *Invoker) BindEvents(src EventSource) {
	inv.mu.Lock()
	names := make([]string, 0, len(inv.buckets))
	for name := range inv.buckets {
		names = append(names, name)
	}
	inv.mu.Unlock()

	for _, name := range names {
		emitter := src.HookEmitter(name)
		if emitter == nil {
			continue
		}
		name := name
		emitter.Subscribe(func(args Args) {
			// The bucket may have been cleared since binding; that is fine.
			_ = inv.Invoke(name, args)
		})
	}
}

// Stop drains the queue and joins the workers. Tasks enqueued before Stop
// returns are still executed; once every worker has observed an empty queue
// with stop requested, the pool is gone and further Invokes are lost.
func (inv *Invoker) Stop() {
	inv.queueMu.Lock()
	if inv.stopping {
		inv.queueMu.Unlock()
		return
	}
	inv.stopping = true
	inv.notEmpty.Broadcast()
	inv.queueMu.Unlock()

	inv.wg.Wait()
	inv.logger.Debug().Msg("hook workers stopped")
}

func (inv *Invoker) worker(id int) {
	defer inv.wg.Done()

	for {
		inv.queueMu.Lock()
		for len(inv.queue) == 0 && !inv.stopping {
			inv.notEmpty.Wait()
		}
		if len(inv.queue) == 0 {
			inv.queueMu.Unlock()
			return
		}
		t := inv.queue[0]
		inv.queue = inv.queue[1:]
		inv.queueMu.Unlock()

		err := t.hook.Call(t.args)
		metrics.RecordHookInvocation(t.name, err == nil)
		if err != nil {
			inv.logger.Warn().
				Err(err).
				Int("worker", id).
				Str("hook", t.description).
				Msg("hook execution failed")
			inv.Failure.Emit(Failure{Description: t.description, Err: err})
		}
	}
}
