package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/newsroom/pkg/ports"
)

// Broker is an in-process message log shared by InMemoryTransport views.
// Each consumer group reads every topic from the beginning, delivery is
// sequential per subscription, and unacked messages go back to the group when
// the subscription that held them ends.
// This is for testing and single-process development only.
type Broker struct {
	mu     sync.Mutex
	seq    int64
	topics map[string][]entry
	groups map[groupKey]*group
}

type entry struct {
	id   string
	key  string
	body []byte
}

type groupKey struct {
	topic string
	name  string
}

type group struct {
	next       int
	redeliver  []entry
	pending    map[string]pendingEntry
	wake       chan struct{}
	subscribed int
}

type pendingEntry struct {
	entry
	consumer int64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string][]entry),
		groups: make(map[groupKey]*group),
	}
}

// Transport returns a transport whose subscriptions belong to consumer group.
func (b *Broker) Transport(consumerGroup string) *InMemoryTransport {
	return &InMemoryTransport{broker: b, group: consumerGroup}
}

// Published returns the bodies published to topic, oldest first.
func (b *Broker) Published(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]byte, 0, len(b.topics[topic]))
	for _, e := range b.topics[topic] {
		out = append(out, e.body)
	}
	return out
}

// Pending returns how many messages of topic the group has not acked yet,
// including ones not delivered.
func (b *Broker) Pending(topic, consumerGroup string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[groupKey{topic, consumerGroup}]
	if !ok {
		return len(b.topics[topic])
	}
	return len(b.topics[topic]) - g.next + len(g.redeliver) + len(g.pending)
}

func (b *Broker) publish(topic string, msg ports.Message) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e := entry{id: fmt.Sprintf("%d-0", b.seq), key: msg.Key, body: append([]byte(nil), msg.Body...)}
	b.topics[topic] = append(b.topics[topic], e)
	for key, g := range b.groups {
		if key.topic == topic {
			g.signal()
		}
	}
	return e.id
}

func (b *Broker) join(topic, name string) (*group, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := groupKey{topic, name}
	g, ok := b.groups[key]
	if !ok {
		g = &group{pending: make(map[string]pendingEntry), wake: make(chan struct{})}
		b.groups[key] = g
	}
	g.subscribed++
	b.seq++
	return g, b.seq
}

// claim hands the next entry to consumer, or returns a channel that is closed
// when more work arrives.
func (b *Broker) claim(topic string, g *group, consumer int64) (entry, bool, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var e entry
	switch {
	case len(g.redeliver) > 0:
		e = g.redeliver[0]
		g.redeliver = g.redeliver[1:]
	case g.next < len(b.topics[topic]):
		e = b.topics[topic][g.next]
		g.next++
	default:
		return entry{}, false, g.wake
	}
	g.pending[e.id] = pendingEntry{entry: e, consumer: consumer}
	return e, true, nil
}

func (b *Broker) ack(g *group, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(g.pending, id)
}

// leave returns the consumer's unacked entries to the group.
func (b *Broker) leave(g *group, consumer int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, p := range g.pending {
		if p.consumer == consumer {
			g.redeliver = append(g.redeliver, p.entry)
			delete(g.pending, id)
		}
	}
	g.subscribed--
	g.signal()
}

func (g *group) signal() {
	close(g.wake)
	g.wake = make(chan struct{})
}

// InMemoryTransport implements ports.Transport on a Broker.
type InMemoryTransport struct {
	broker *Broker
	group  string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Publish appends a message to the topic log.
func (t *InMemoryTransport) Publish(ctx context.Context, topic string, msg ports.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("transport closed")
	}
	t.broker.publish(topic, msg)
	return nil
}

// Subscribe starts sequential delivery of topic to handler until ctx ends.
func (t *InMemoryTransport) Subscribe(ctx context.Context, topic string, handler ports.MessageHandler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	t.wg.Add(1)
	t.mu.Unlock()

	g, consumer := t.broker.join(topic, t.group)

	go func() {
		defer t.wg.Done()
		defer t.broker.leave(g, consumer)
		for {
			if ctx.Err() != nil {
				return
			}
			e, ok, wake := t.broker.claim(topic, g, consumer)
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-wake:
					continue
				}
			}
			id := e.id
			handler(ctx, ports.Message{
				ID:   id,
				Key:  e.key,
				Body: e.body,
				Ack: func(context.Context) error {
					t.broker.ack(g, id)
					return nil
				},
			})
		}
	}()
	return nil
}

// Close stops accepting publishes and waits for subscriptions to end. Callers
// cancel subscription contexts first.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}
