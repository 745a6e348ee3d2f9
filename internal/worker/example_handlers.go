package worker

import (
	"context"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/logger"
	"github.com/muaviaUsmani/jobyard/internal/registry"
)

// baseHandler implements the SetArgs/SetQueue half of registry.Handler,
// leaving Perform to the embedding type. Reshaped from a set of free
// example-handler functions into per-invocation Handler values matching
// registry.Constructor's contract.
type baseHandler struct {
	args  map[string]interface{}
	queue string
}

func (h *baseHandler) SetArgs(args map[string]interface{}) { h.args = args }
func (h *baseHandler) SetQueue(queue string) { h.queue = queue }

// CountItemsHandler counts entries in an "items" arg.
type CountItemsHandler struct{ baseHandler }

// NewCountItemsHandler is a registry.Constructor for CountItemsHandler.
func NewCountItemsHandler() registry.Handler { return &CountItemsHandler{} }

func (h *CountItemsHandler) Perform(ctx context.Context) error {
	items, _ := h.args["items"].([]interface{})
	logger.Default().WithComponent(logger.ComponentWorker).
		Info("counted items", "queue", h.queue, "count", len(items))
	return nil
}

// SendEmailHandler simulates sending an email.
type SendEmailHandler struct{ baseHandler }

// NewSendEmailHandler is a registry.Constructor for SendEmailHandler.
func NewSendEmailHandler() registry.Handler { return &SendEmailHandler{} }

func (h *SendEmailHandler) Perform(ctx context.Context) error {
	to, _ := h.args["to"].(string)
	logger.Default().WithComponent(logger.ComponentWorker).
		Info("sending email", "queue", h.queue, "to", to)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
	}
	return nil
}

// ProcessDataHandler simulates a longer-running data processing job.
type ProcessDataHandler struct{ baseHandler }

// NewProcessDataHandler is a registry.Constructor for ProcessDataHandler.
func NewProcessDataHandler() registry.Handler { return &ProcessDataHandler{} }

func (h *ProcessDataHandler) Perform(ctx context.Context) error {
	logger.Default().WithComponent(logger.ComponentWorker).
		Info("processing data", "queue", h.queue)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(3 * time.Second):
	}
	return nil
}
