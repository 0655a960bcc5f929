package channel

import (
	"context"

	"github.com/hollyoak/steward/internal/bus"
)

// Channel is a messaging transport the human talks to the assistant
// through.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel carries the name, bus reference and sender allow-list
// shared by all channel implementations.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = true
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed}
}

func (b BaseChannel) Name() string {
	return b.name
}

// IsAllowed reports whether a sender may talk to the assistant. An
// empty allow-list admits everyone.
func (b BaseChannel) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	return b.allowFrom[senderID]
}
