package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// JetStream is the production bus: one stream over invoice.>, one durable
// pull consumer per worker step. Terminated messages are mirrored onto a
// dlq.<subject> subject so operators can inspect and requeue them.
type JetStream struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	stream     string
	maxDeliver int
	log        zerolog.Logger
}

// JetStreamConfig configures the NATS connection and stream layout.
type JetStreamConfig struct {
	URL        string
	Stream     string
	Subjects   []string
	MaxDeliver int
}

// NewJetStream connects to NATS and ensures the stream exists.
func NewJetStream(cfg JetStreamConfig, log zerolog.Logger) (*JetStream, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream context: %w", err)
	}

	subjects := cfg.Subjects
	if len(subjects) == 0 {
		subjects = []string{"invoice.>", "dlq.>", "notifications.>"}
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  subjects,
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("bus: ensure stream %s: %w", cfg.Stream, err)
	}

	maxDeliver := cfg.MaxDeliver
	if maxDeliver <= 0 {
		maxDeliver = 5
	}
	return &JetStream{
		nc:         nc,
		js:         js,
		stream:     cfg.Stream,
		maxDeliver: maxDeliver,
		log:        log,
	}, nil
}

// Publish sends data on subject with a synchronous JetStream ack.
func (j *JetStream) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := j.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe binds a durable pull consumer. An empty filter observes the
// whole invoice subject space.
func (j *JetStream) Subscribe(_ context.Context, name, filter string) (Subscription, error) {
	subject := filter
	if subject == MatchAll {
		subject = "invoice.>"
	}
	durable := strings.ReplaceAll(name, ".", "-")
	sub, err := j.js.PullSubscribe(subject, durable,
		nats.BindStream(j.stream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(j.maxDeliver),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s (%s): %w", name, subject, err)
	}
	return &jsSub{bus: j, name: name, sub: sub}, nil
}

type jsSub struct {
	bus  *JetStream
	name string
	sub  *nats.Subscription
}

type jsHandle struct{ m *nats.Msg }

func (h *jsHandle) ack() error  { return h.m.Ack() }
func (h *jsHandle) nak() error  { return h.m.Nak() }
func (h *jsHandle) term() error { return h.m.Term() }

func (s *jsSub) Pull(ctx context.Context, maxWait time.Duration) (*Message, error) {
	msgs, err := s.sub.Fetch(1, nats.MaxWait(maxWait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrNoMessage
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("bus: fetch %s: %w", s.name, err)
	}
	if len(msgs) == 0 {
		return nil, ErrNoMessage
	}

	m := msgs[0]
	meta, err := m.Metadata()
	if err != nil {
		return nil, fmt.Errorf("bus: message metadata: %w", err)
	}
	return &Message{
		ID:         fmt.Sprintf("%s-%d", s.bus.stream, meta.Sequence.Stream),
		Subject:    m.Subject,
		Data:       m.Data,
		Deliveries: int(meta.NumDelivered),
		h:          &jsHandle{m: m},
	}, nil
}

func (s *jsSub) Ack(_ context.Context, msg *Message) error { return msg.h.ack() }
func (s *jsSub) Nak(_ context.Context, msg *Message) error { return msg.h.nak() }

// Quarantine terminates delivery and mirrors the payload to dlq.<subject>
// with the reason in a header.
func (s *jsSub) Quarantine(ctx context.Context, msg *Message, reason string) error {
	dlq := &nats.Msg{
		Subject: "dlq." + msg.Subject,
		Data:    msg.Data,
		Header: nats.Header{
			"Quarantine-Reason": []string{reason},
			"Origin-Consumer":   []string{s.name},
		},
	}
	if _, err := s.bus.js.PublishMsg(dlq, nats.Context(ctx)); err != nil {
		// Keep the message redeliverable rather than lose it.
		return fmt.Errorf("bus: dead-letter publish: %w", err)
	}
	return msg.h.term()
}

func (s *jsSub) Close() error { return s.sub.Unsubscribe() }

// Close drains the underlying connection.
func (j *JetStream) Close() {
	if err := j.nc.Drain(); err != nil {
		j.log.Warn().Err(err).Msg("bus: drain failed")
	}
}
