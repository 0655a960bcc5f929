package bus

import (
	"context"
	"log"
	"sync"
	"time"
)

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	ReplyTo string
}

// MessageBus carries traffic between channels and the gateway. Outbound
// delivery fans out to one subscriber per channel name.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if fn == nil {
				log.Printf("[bus] no subscriber for channel %q, dropping message", msg.Channel)
				continue
			}
			fn(msg)
		case <-ctx.Done():
			return
		}
	}
}
