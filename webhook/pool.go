package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/internal/metrics"
)

// processTimeout bounds how long one queued delivery may run.
const processTimeout = 60 * time.Second

// Pool processes claimed deliveries on a bounded queue of workers.
// When the queue is full the delivery is processed synchronously on
// the caller's goroutine so nothing is dropped.
type Pool struct {
	handler *Handler
	queue   chan Event
	wg      sync.WaitGroup

	// mu guards closed and is held (shared) across the queue send so
	// Close cannot close the channel between the check and the send.
	mu     sync.RWMutex
	closed bool
}

// NewPool starts the workers. A queueDepth of 0 disables queueing:
// every delivery is processed synchronously.
func NewPool(handler *Handler, queueDepth, workers int) *Pool {
	p := &Pool{
		handler: handler,
		queue:   make(chan Event, queueDepth),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit claims the delivery and, when it is unique, queues it for
// processing. It returns StatusScheduled when queued, the full
// pipeline result when the queue was full and the delivery ran
// inline, and StatusDuplicate for suppressed deliveries.
func (p *Pool) Submit(ctx context.Context, event Event) (Result, error) {
	unique, err := p.handler.ClaimDelivery(ctx, event)
	if err != nil {
		return Result{}, err
	}
	if !unique {
		return Result{Status: StatusDuplicate}, nil
	}

	p.mu.RLock()
	if !p.closed && cap(p.queue) > 0 {
		select {
		case p.queue <- event:
			p.mu.RUnlock()
			metrics.RecordAsyncBacklog(ctx, "queued")
			return Result{Status: StatusScheduled}, nil
		default:
		}
	}
	p.mu.RUnlock()

	// Queue full (or pool shutting down): process on the caller.
	metrics.RecordAsyncBacklog(ctx, "inline")
	return p.handler.Process(ctx, event)
}

// Close stops accepting work and waits for queued deliveries to
// finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		result, err := p.handler.Process(ctx, event)
		if err != nil {
			logger.Error("failed to process webhook delivery",
				"workspace_id", event.WorkspaceID,
				"event", event.EventType,
				"payload_id", event.PayloadID,
				"error", err)
		} else {
			logger.Debug("webhook delivery processed",
				"workspace_id", event.WorkspaceID,
				"event", event.EventType,
				"status", result.Status)
		}
		cancel()
	}
}
