package title

import "sync"

// EventTitle is the only event kind published today.
const EventTitle = "title"

// Event is delivered to subscribers when a session title changes.
type Event struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

const subscriberBuffer = 8

// Broker fans title events out to the subscribers of each user. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for userID. The returned cancel func closes the channel.
func (b *Broker) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan Event]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[userID], ch)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every current subscriber of userID.
func (b *Broker) Publish(userID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[userID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports how many listeners userID has.
func (b *Broker) Subscribers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}
