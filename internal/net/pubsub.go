package net

import "sync"

const subscriberBuffer = 64

// PubSub is a broadcast channel for one topic: every subscriber gets its
// own buffered feed. Publishing never blocks; a subscriber that stops
// draining loses messages rather than stalling the engine.
type PubSub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewPubSub() *PubSub {
	return &PubSub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a new feed. The returned cancel func detaches it;
// calling cancel more than once is harmless.
func (p *PubSub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			p.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish fans message out to every live subscriber.
func (p *PubSub) Publish(message []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- message:
		default:
		}
	}
}

// Len is the current subscriber count.
func (p *PubSub) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
