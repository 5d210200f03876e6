package dispatcher

import (
	"context"

	"github.com/garyjia/expense-reconciler/internal/domain/event"
)

// Handler reacts to a domain event. Handlers must be idempotent: the same
// event may be delivered again after a retry of the operation that raised it.
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
