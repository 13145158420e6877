package notify

import "sync"

// Hub delivers in-process wake-ups to subscribers of a key. Notifications carry no data and are
// coalesced: a subscriber that has not consumed the previous wake-up does not queue another one.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan struct{}]struct{}),
	}
}

func (h *Hub) Subscribe(key string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if _, ok := h.subs[key]; !ok {
		h.subs[key] = make(map[chan struct{}]struct{})
	}
	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			delete(h.subs[key], ch)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
		})
	}
}

func (h *Hub) Publish(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions for key
func (h *Hub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs[key])
}
