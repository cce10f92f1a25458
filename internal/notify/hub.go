// Package notify is the core's notification sink: a many-to-many hub that
// ingests change events from books, registries, and the arbitrage engine
// and distributes them to subscribers without ever blocking a producer.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// Source is anything that exposes a stream of events to the hub.
type Source interface {
	Events() <-chan market.Event
}

// Emitter bridges callback-style producers (OnChange hooks) into a Source.
// Emit never blocks; when the buffer is full the event is dropped, which is
// acceptable for a fire-and-forget observability channel.
type Emitter struct {
	ch chan market.Event
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(buf int) *Emitter {
	return &Emitter{ch: make(chan market.Event, buf)}
}

// Emit enqueues an event, dropping it if the buffer is full.
func (e *Emitter) Emit(ev market.Event) {
	select {
	case e.ch <- ev:
	default:
	}
}

// Events returns the emitter's stream.
func (e *Emitter) Events() <-chan market.Event { return e.ch }

// Hub fans events from any number of sources out to kind-filtered
// subscribers and a unified "all" stream. Dispatch is non-blocking: slow
// subscribers get events dropped.
type Hub struct {
	sources []<-chan market.Event
	log     *zap.Logger

	mu   sync.RWMutex
	subs map[market.EventKind][]chan market.Event

	allMu  sync.RWMutex
	allSub []chan market.Event
}

// NewHub creates a Hub ready for source registration.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:  log,
		subs: make(map[market.EventKind][]chan market.Event),
	}
}

// Register adds a source's event channel. Must be called before Run.
func (h *Hub) Register(src Source) {
	h.sources = append(h.sources, src.Events())
}

// Subscribe returns a buffered channel receiving events of the given kinds.
// The caller must drain the channel to avoid dropped events.
func (h *Hub) Subscribe(kinds ...market.EventKind) <-chan market.Event {
	ch := make(chan market.Event, 256)
	h.mu.Lock()
	for _, k := range kinds {
		h.subs[k] = append(h.subs[k], ch)
	}
	h.mu.Unlock()
	return ch
}

// SubscribeAll returns a buffered channel receiving every event. Intended
// for logging, metrics, or external publishing.
func (h *Hub) SubscribeAll() <-chan market.Event {
	ch := make(chan market.Event, 512)
	h.allMu.Lock()
	h.allSub = append(h.allSub, ch)
	h.allMu.Unlock()
	return ch
}

// Run consumes all registered sources and distributes their events. It
// blocks until ctx is cancelled. Each source gets its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, src := range h.sources {
		wg.Add(1)
		go func(ch <-chan market.Event) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					h.distribute(ev)
				}
			}
		}(src)
	}

	wg.Wait()
}

func (h *Hub) distribute(ev market.Event) {
	h.mu.RLock()
	for _, ch := range h.subs[ev.Kind] {
		select {
		case ch <- ev:
		default:
			h.log.Debug("dropping event for slow subscriber",
				zap.Stringer("kind", ev.Kind), zap.Stringer("pair", ev.Pair))
		}
	}
	h.mu.RUnlock()

	h.allMu.RLock()
	for _, ch := range h.allSub {
		select {
		case ch <- ev:
		default:
			// Slow unified subscriber — drop.
		}
	}
	h.allMu.RUnlock()
}
