// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package storage

import (
	"math"
	"sync"
	"time"

	"github.com/ManuGH/aircheck/internal/log"
	"github.com/rs/zerolog"
)

const (
	queueMaxAttempts = 5
	queueBackoffBase = 1.6
)

// actionQueue runs one action per queued item on a single background worker,
// retrying failed items with exponential backoff (1.6^attempt seconds). It
// keeps slow storage backends off the engine's event path.
type actionQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []queued[T]
	stopping bool
	stopCh   chan struct{}
	done     chan struct{}

	process func(item T) error
	sleep   func(d time.Duration) bool // false when interrupted by shutdown
	logger  zerolog.Logger
}

type queued[T any] struct {
	item    T
	attempt int
}

func newActionQueue[T any](name string, process func(item T) error) *actionQueue[T] {
	q := &actionQueue[T]{
		process: process,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		logger:  log.WithComponent("storage." + name),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.sleep = q.interruptibleSleep

	go q.worker()
	return q
}

// add enqueues an item for processing. Items added after shutdown started
// are dropped.
func (q *actionQueue[T]) add(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopping {
		q.logger.Warn().Msg("item dropped; queue is shutting down")
		return
	}
	q.items = append(q.items, queued[T]{item: item})
	q.notEmpty.Signal()
}

// shutdown drains the queue (skipping retry backoff) and joins the worker.
func (q *actionQueue[T]) shutdown() {
	q.mu.Lock()
	if q.stopping {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.stopping = true
	close(q.stopCh)
	q.notEmpty.Broadcast()
	q.mu.Unlock()

	<-q.done
}

func (q *actionQueue[T]) worker() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.stopping {
			q.notEmpty.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		entry := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		err := q.process(entry.item)
		if err == nil {
			continue
		}

		entry.attempt++
		if entry.attempt >= queueMaxAttempts {
			q.logger.Error().
				Err(err).
				Int("attempts", entry.attempt).
				Msg("giving up on queued item")
			continue
		}

		delay := backoff(entry.attempt)
		q.logger.Warn().
			Err(err).
			Int("attempt", entry.attempt).
			Dur("retry_in", delay).
			Msg("queued item failed; will retry")

		// During shutdown the backoff is skipped so draining stays bounded.
		q.sleep(delay)

		q.mu.Lock()
		q.items = append(q.items, entry)
		q.notEmpty.Signal()
		q.mu.Unlock()
	}
}

func (q *actionQueue[T]) interruptibleSleep(d time.Duration) bool {
	select {
	case <-q.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(queueBackoffBase, float64(attempt)) * float64(time.Second))
}
