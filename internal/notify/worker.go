package notify

import (
	"context"
	"time"

	"github.com/atelier-ec/newsletter/internal/pkg/logger"
)

// Worker drains the queue and dispatches events. Failures are logged and the
// loop keeps going; a bad event never takes the worker down.
type Worker struct {
	queue       *Queue
	dispatcher  *Dispatcher
	pollTimeout time.Duration
}

// NewWorker creates a queue worker.
func NewWorker(queue *Queue, dispatcher *Dispatcher) *Worker {
	return &Worker{
		queue:       queue,
		dispatcher:  dispatcher,
		pollTimeout: 5 * time.Second,
	}
}

// Run consumes events until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("notification worker started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("notification worker stopping")
			return
		default:
		}

		event, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("notification worker stopping")
				return
			}
			logger.Error("dequeue failed", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}
		if event == nil {
			continue
		}

		result := w.dispatcher.Dispatch(ctx, *event)
		logger.Info("event dispatched",
			"kind", string(event.Kind),
			"entity_id", event.EntityID,
			"sent", result.Sent,
			"failed", result.Failed)
		for _, e := range result.Errors {
			logger.Warn("dispatch error", "kind", string(event.Kind), "detail", e)
		}
	}
}
