package channel

import (
	"context"
	"fmt"
	"log"

	"github.com/hollyoak/steward/internal/bus"
	"github.com/hollyoak/steward/internal/config"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewChannelManager(cfg config.ChannelsConfig, b *bus.MessageBus) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.register(ch)
	}

	return m, nil
}

func (m *ChannelManager) register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			log.Printf("[channel-mgr] send to %s failed: %v", ch.Name(), err)
		}
	})
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		log.Printf("[channel-mgr] started %s", name)
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	var firstErr error
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] stop %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *ChannelManager) Get(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *ChannelManager) Count() int {
	return len(m.channels)
}
