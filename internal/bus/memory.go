package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process bus with at-least-once semantics: published
// messages are retained in a stream and replayed to durable subscriptions
// created later, Nak requeues at the front of the subscription, and a
// message exceeding the delivery budget is dead-lettered instead of
// redelivered. It backs tests and the single-process dev mode.
type Memory struct {
	mu         sync.Mutex
	maxDeliver int
	stream     []streamEntry
	subs       map[string]*memorySub
	dead       []DeadLetter
}

// streamEntry is one retained publication. Subscriptions get their own
// Message per delivery so delivery counts stay per-consumer.
type streamEntry struct {
	id      string
	subject string
	data    []byte
}

// NewMemory creates an in-memory bus. maxDeliver bounds redeliveries per
// message before automatic dead-lettering; zero means the default of 5.
func NewMemory(maxDeliver int) *Memory {
	if maxDeliver <= 0 {
		maxDeliver = 5
	}
	return &Memory{
		maxDeliver: maxDeliver,
		subs:       make(map[string]*memorySub),
	}
}

type memorySub struct {
	bus    *Memory
	name   string
	filter string
	queue  []*Message
	closed bool
}

type memoryHandle struct {
	sub *memorySub
	msg *Message
}

func (h *memoryHandle) ack() error { return nil }

func (h *memoryHandle) nak() error {
	h.sub.bus.mu.Lock()
	defer h.sub.bus.mu.Unlock()
	if h.msg.Deliveries >= h.sub.bus.maxDeliver {
		h.sub.bus.dead = append(h.sub.bus.dead, DeadLetter{
			Message: *h.msg,
			Reason:  "max delivery count exceeded",
			At:      time.Now().UTC(),
		})
		return nil
	}
	// Redeliver ahead of anything published later so per-invoice order
	// within the subscription is preserved.
	h.sub.queue = append([]*Message{h.msg}, h.sub.queue...)
	return nil
}

func (h *memoryHandle) term() error { return nil }

// Publish retains data in the stream and delivers it to every subscription
// whose filter matches.
func (m *Memory) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	entry := streamEntry{id: uuid.NewString(), subject: subject, data: buf}
	m.stream = append(m.stream, entry)
	for _, sub := range m.subs {
		if sub.closed || !sub.matches(subject) {
			continue
		}
		sub.enqueue(entry)
	}
	return nil
}

// Subscribe returns the named subscription, creating it on first use. A
// new subscription replays the retained stream, so events published before
// the subscriber attached are delivered rather than lost.
func (m *Memory) Subscribe(_ context.Context, name, filter string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[name]; ok {
		if sub.filter != filter {
			return nil, fmt.Errorf("bus: subscription %q exists with filter %q", name, sub.filter)
		}
		sub.closed = false
		return sub, nil
	}
	sub := &memorySub{bus: m, name: name, filter: filter}
	for _, entry := range m.stream {
		if sub.matches(entry.subject) {
			sub.enqueue(entry)
		}
	}
	m.subs[name] = sub
	return sub, nil
}

func (s *memorySub) matches(subject string) bool {
	return s.filter == MatchAll || s.filter == subject
}

func (s *memorySub) enqueue(entry streamEntry) {
	s.queue = append(s.queue, &Message{
		ID:      entry.id,
		Subject: entry.subject,
		Data:    entry.data,
	})
}

func (s *memorySub) Pull(ctx context.Context, maxWait time.Duration) (*Message, error) {
	deadline := time.Now().Add(maxWait)
	for {
		s.bus.mu.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue = s.queue[1:]
			msg.Deliveries++
			msg.h = &memoryHandle{sub: s, msg: msg}
			s.bus.mu.Unlock()
			return msg, nil
		}
		s.bus.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, ErrNoMessage
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *memorySub) Ack(_ context.Context, msg *Message) error { return msg.h.ack() }
func (s *memorySub) Nak(_ context.Context, msg *Message) error { return msg.h.nak() }

func (s *memorySub) Quarantine(_ context.Context, msg *Message, reason string) error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.dead = append(s.bus.dead, DeadLetter{
		Message: *msg,
		Reason:  reason,
		At:      time.Now().UTC(),
	})
	return msg.h.term()
}

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closed = true
	return nil
}

// DeadLetters returns a snapshot of quarantined messages.
func (m *Memory) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetter, len(m.dead))
	copy(out, m.dead)
	return out
}

// Requeue re-publishes a dead-lettered message on its original subject and
// removes it from the dead-letter list.
func (m *Memory) Requeue(ctx context.Context, messageID string) error {
	m.mu.Lock()
	var found *DeadLetter
	for i := range m.dead {
		if m.dead[i].Message.ID == messageID {
			found = &m.dead[i]
			m.dead = append(m.dead[:i], m.dead[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return fmt.Errorf("bus: dead letter %s not found", messageID)
	}
	return m.Publish(ctx, found.Message.Subject, found.Message.Data)
}
