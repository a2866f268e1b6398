// Package hub serializes inbound events and disconnects onto one goroutine so
// each is applied to relay state as an atomic unit.
package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"roomrelay/pkg/interfaces"
	applog "roomrelay/pkg/log"
	"roomrelay/pkg/types"
)

type taskKind int

const (
	taskEvent taskKind = iota
	taskDisconnect
)

// task is one unit of work. Events and disconnects share a queue so a
// connection's disconnect is never handled before its earlier events.
type task struct {
	kind     taskKind
	ctx      context.Context
	conn     interfaces.Connection
	envelope types.Envelope
}

// Hub feeds an EventRouter from a single loop.
type Hub struct {
	taskChannel     chan task
	shutdownChannel chan struct{}
	done            chan struct{}

	router interfaces.EventRouter
	logger zerolog.Logger

	processed atomic.Uint64

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub whose queue holds queueSize pending tasks.
func NewHub(router interfaces.EventRouter, queueSize int, logger zerolog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Hub{
		taskChannel:     make(chan task, queueSize),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		router:          router,
		logger:          logger,
	}
}

// Start launches the processing loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	select {
	case <-h.shutdownChannel:
		return ErrHubStopped
	default:
	}
	h.running = true

	h.logger.Info().Int("queue_size", cap(h.taskChannel)).Msg("starting event hub")
	go h.run(ctx)
	return nil
}

// Stop ends the loop and waits for the task in progress to finish.
// Tasks still queued are discarded.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	<-h.done
	h.logger.Info().Uint64("processed", h.processed.Load()).Msg("event hub stopped")
	return nil
}

// Submit queues an inbound event. It blocks while the queue is full, which
// stalls only the calling connection's read pump.
func (h *Hub) Submit(ctx context.Context, conn interfaces.Connection, envelope types.Envelope) error {
	return h.enqueue(ctx, task{kind: taskEvent, ctx: ctx, conn: conn, envelope: envelope})
}

// Disconnect queues the release of everything held for conn.
func (h *Hub) Disconnect(conn interfaces.Connection) error {
	ctx := context.Background()
	return h.enqueue(ctx, task{kind: taskDisconnect, ctx: ctx, conn: conn})
}

func (h *Hub) enqueue(ctx context.Context, t task) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	select {
	case h.taskChannel <- t:
		return nil
	case <-h.shutdownChannel:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Processed returns how many tasks the loop has completed.
func (h *Hub) Processed() uint64 {
	return h.processed.Load()
}

// QueueLength returns the number of tasks waiting.
func (h *Hub) QueueLength() int {
	return len(h.taskChannel)
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case t := <-h.taskChannel:
			h.handle(t)

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			h.logger.Info().Msg("event hub context cancelled")
			h.mu.Lock()
			if h.running {
				h.running = false
				close(h.shutdownChannel)
			}
			h.mu.Unlock()
			return
		}
	}
}

// handle runs one task. A panic in the router is logged and the loop goes on.
func (h *Hub) handle(t task) {
	defer h.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Interface("panic", r).
				Str(applog.FieldConnID, t.conn.ID()).
				Str(applog.FieldEvent, t.envelope.Event).
				Msg("router panicked")
		}
	}()

	switch t.kind {
	case taskEvent:
		h.router.Dispatch(t.ctx, t.conn, t.envelope)
	case taskDisconnect:
		h.router.Disconnect(t.ctx, t.conn)
	}
}
