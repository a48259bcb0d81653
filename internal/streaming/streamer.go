package streaming

import (
	"sync"

	"github.com/KevinKickass/OpenDO96/internal/devices"
)

// AllCards subscribes to the events of every card.
const AllCards = ""

const subscriberBuffer = 100

// EventStreamer fans card events out to per-subscriber channels. Slow
// subscribers miss events instead of blocking the card operation.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[string][]chan devices.ChangeEvent
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[string][]chan devices.ChangeEvent),
	}
}

// Subscribe returns a channel receiving the events of card, or of all cards
// for AllCards.
func (s *EventStreamer) Subscribe(card string) <-chan devices.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan devices.ChangeEvent, subscriberBuffer)
	s.subscribers[card] = append(s.subscribers[card], ch)
	return ch
}

func (s *EventStreamer) Unsubscribe(card string, ch <-chan devices.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[card]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[card] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subscribers[card]) == 0 {
		delete(s.subscribers, card)
	}
}

func (s *EventStreamer) Broadcast(event devices.ChangeEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.deliver(s.subscribers[event.Card], event)
	if event.Card != AllCards {
		s.deliver(s.subscribers[AllCards], event)
	}
}

func (s *EventStreamer) deliver(subs []chan devices.ChangeEvent, event devices.ChangeEvent) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Skip if channel is full
		}
	}
}

// Listener adapts the streamer to the card manager's event bus.
func (s *EventStreamer) Listener() devices.Listener {
	return s.Broadcast
}

// SubscriberCount is the number of open subscriptions.
func (s *EventStreamer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, subs := range s.subscribers {
		n += len(subs)
	}
	return n
}

// CloseAll ends every subscription.
func (s *EventStreamer) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for card, subs := range s.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(s.subscribers, card)
	}
}
