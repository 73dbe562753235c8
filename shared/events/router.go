package events

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

var _ EventHandler = (*Router)(nil)

// HandlerFunc adapts a function to a topic handler
type HandlerFunc func(ctx context.Context, event *Event) error

// Router dispatches events from one subscription to the handlers registered
// for their topic. Topics nobody handles are acknowledged and dropped.
type Router struct {
	id       string
	handlers map[Topic][]HandlerFunc
	logger   *slog.Logger
}

// NewRouter creates a router identified by id
func NewRouter(id string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{id: id, handlers: make(map[Topic][]HandlerFunc), logger: logger}
}

// RegisterHandler registers a handler for a topic
func (r *Router) RegisterHandler(topic Topic, handler HandlerFunc) {
	r.handlers[topic] = append(r.handlers[topic], handler)
}

// HandlerID implements the EventHandler interface
func (r *Router) HandlerID() string {
	return r.id
}

// Handle runs every handler of the event topic. The first failure is
// returned so the message is redelivered.
func (r *Router) Handle(ctx context.Context, event *Event) error {
	handlers, ok := r.handlers[event.Topic]
	if !ok {
		r.logger.DebugContext(ctx, "no handlers registered for topic", "topic", event.Topic, "event_id", event.ID)
		return nil
	}

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			return errors.Wrapf(err, "handler for %s failed", event.Topic)
		}
	}

	return nil
}
