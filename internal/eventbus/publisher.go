// Package eventbus publishes spec2bids results to NATS JetStream so that
// other services can follow a conversion while it runs.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/psychoinformatics-de/hirni/internal/types"
)

// Message is the payload of a published result.
type Message struct {
	Session   string        `json:"session"`
	Dataset   string        `json:"dataset"`
	Timestamp time.Time     `json:"timestamp"`
	Result    *types.Result `json:"result"`
}

// jetStream is the part of nats.JetStreamContext the publisher needs.
type jetStream interface {
	streamManager
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Options configure a publisher connection.
type Options struct {
	URL     string
	Token   string
	Prefix  string
	Session string
	Dataset string
}

// Publisher publishes result records, one message per record.
type Publisher struct {
	nc      *nats.Conn
	js      jetStream
	prefix  string
	session string
	dataset string
	now     func() time.Time
}

// Connect dials the NATS server and makes sure the result stream exists.
func Connect(opts Options) (*Publisher, error) {
	connectOpts := []nats.Option{
		nats.Name("hirni-spec2bids"),
		nats.Timeout(2 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(3),
	}
	if opts.Token != "" {
		connectOpts = append(connectOpts, nats.Token(opts.Token))
	}

	nc, err := nats.Connect(opts.URL, connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", opts.URL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("JetStream context: %w", err)
	}
	p, err := newPublisher(js, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.nc = nc
	return p, nil
}

func newPublisher(js jetStream, opts Options) (*Publisher, error) {
	if err := EnsureStream(js, opts.Prefix); err != nil {
		return nil, err
	}
	return &Publisher{
		js:      js,
		prefix:  opts.Prefix,
		session: opts.Session,
		dataset: opts.Dataset,
		now:     time.Now,
	}, nil
}

// Publish sends r on the subject for its status and waits for the ack.
func (p *Publisher) Publish(ctx context.Context, r types.Result) error {
	data, err := json.Marshal(Message{
		Session:   p.session,
		Dataset:   p.dataset,
		Timestamp: p.now().UTC(),
		Result:    &r,
	})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	subject := SubjectFor(p.prefix, r.Status)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	_ = p.nc.Drain()
}
