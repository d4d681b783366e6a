package messaging

import (
	"context"
	"log/slog"

	"github.com/glimte/mmate-relay/archive"
	"github.com/glimte/mmate-relay/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ReturnHandler deals with messages the destination broker could not route.
// It archives them under a returned- id and reports them; it never touches
// the source broker.
type ReturnHandler struct {
	store       archive.Store
	observer    Observer
	logger      *slog.Logger
	verboseBody bool
}

// NewReturnHandler creates a return handler
func NewReturnHandler(opts ...Option) *ReturnHandler {
	o := newOptions(opts)
	return &ReturnHandler{
		store:       o.store,
		observer:    o.observer,
		logger:      o.logger,
		verboseBody: o.verboseBody,
	}
}

// HandleReturn archives and reports r. It returns the archive id.
func (h *ReturnHandler) HandleReturn(ctx context.Context, r amqp.Return) string {
	id := contracts.ReturnedID(r.MessageId)
	env := contracts.FromReturn(id, r)

	if err := h.store.Push(ctx, id, env); err != nil {
		h.logger.Warn("failed to archive returned message", append(env.LogAttrs(), "error", err)...)
		h.observer.OnFailed(contracts.FailedEvent{ID: id, Stage: contracts.StageArchive, Envelope: env, Err: err})
	}

	h.observer.OnReturned(contracts.ReturnedEvent{Return: r})

	attrs := append(env.LogAttrs(),
		"replyCode", r.ReplyCode,
		"replyText", r.ReplyText,
	)
	if h.verboseBody {
		attrs = append(attrs, "body", string(r.Body))
	}
	h.logger.Warn("message returned by destination broker", attrs...)

	return id
}
