package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/metrics"
)

// Relay carries encoded events between processes.
type Relay interface {
	Notify(ctx context.Context, payload []byte) error
	Listen(ctx context.Context, handle func(payload []byte)) error
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Bus delivers events to in-process subscribers. With a Relay, published
// events take a round trip through it so every replica sees the same stream.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	relay  Relay
	logger *slog.Logger
}

// NewBus creates a Bus. relay may be nil.
func NewBus(relay Relay, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[*subscriber]struct{}), relay: relay, logger: logger}
}

// Run consumes the relay until ctx is done. It is a no-op without a relay.
func (b *Bus) Run(ctx context.Context) error {
	if b.relay == nil {
		<-ctx.Done()
		return nil
	}
	return b.relay.Listen(ctx, func(payload []byte) {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			b.logger.Warn("dropping malformed relayed event", "error", err)
			return
		}
		b.deliver(ev)
	})
}

// Publish sends ev to subscribers. It never blocks on slow subscribers.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b.relay != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			if err = b.relay.Notify(ctx, payload); err == nil {
				return
			}
		}
		b.logger.Warn("event relay failed, delivering locally", "type", ev.Type, "error", err)
	}
	b.deliver(ev)
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.logger.Debug("subscriber buffer full, dropping event", "type", ev.Type)
		}
	}
}

// Subscribe returns a channel of matching events and a cancel function that
// closes it.
func (b *Bus) Subscribe(filter Filter, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	s := &subscriber{ch: make(chan Event, buffer), filter: filter}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	metrics.LiveClients.Inc()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
			metrics.LiveClients.Dec()
		})
	}
}
