package msg

import (
	"sync"

	"github.com/google/uuid"
)

// Topic separates message streams on a publisher.
type Topic int

const (
	// Status carries routine state transitions.
	Status Topic = iota
	// Config carries routine configuration on setup.
	Config
	// Result carries solved dispatch results.
	Result
)

func (t Topic) String() string {
	switch t {
	case Status:
		return "status"
	case Config:
		return "config"
	case Result:
		return "result"
	}
	return "unknown"
}

// Publisher is an interface for objects that allow subscription to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is a single published event.
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the stream the message was published on
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

const bufferSize = 16

// PubSub fans messages out to subscribers. Publish never blocks: a message
// is dropped for any subscriber whose buffer is full.
type PubSub struct {
	mux         *sync.Mutex
	pid         uuid.UUID
	subscribers map[Topic]map[uuid.UUID]chan Msg
	closed      bool
}

// NewPublisher returns a PubSub sending as pid.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		mux:         &sync.Mutex{},
		pid:         pid,
		subscribers: make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// PID returns the publisher's PID
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe returns a channel receiving every message published on topic.
// A second subscription by the same pid on the same topic returns an error.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	subs, ok := p.subscribers[topic]
	if !ok {
		subs = make(map[uuid.UUID]chan Msg)
		p.subscribers[topic] = subs
	}
	if _, exists := subs[pid]; exists {
		return nil, ErrSubscribed
	}
	ch := make(chan Msg, bufferSize)
	subs[pid] = ch
	return ch, nil
}

// Unsubscribe closes every channel held by pid.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subscribers {
		if ch, ok := subs[pid]; ok {
			close(ch)
			delete(subs, pid)
		}
	}
}

// Publish sends payload to the topic's subscribers and returns how many
// received it.
func (p *PubSub) Publish(topic Topic, payload interface{}) int {
	p.mux.Lock()
	defer p.mux.Unlock()
	m := New(p.pid, topic, payload)
	sent := 0
	for _, ch := range p.subscribers[topic] {
		select {
		case ch <- m:
			sent++
		default:
		}
	}
	return sent
}

// Close unsubscribes everyone; later subscriptions fail.
func (p *PubSub) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subscribers {
		for pid, ch := range subs {
			close(ch)
			delete(subs, pid)
		}
	}
	p.closed = true
}
