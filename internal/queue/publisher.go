package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/table-reservation/internal/notify"
)

const (
	defaultBuffer  = 256
	dialTimeout    = 5 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

// ErrBufferFull is returned by Publish when the broker has fallen so far
// behind that the outgoing buffer is full.  The event is dropped.
var ErrBufferFull = errors.New("rabbitmq: publish buffer full")

type outgoing struct {
	event string
	body  []byte
}

// Publisher sends broadcast envelopes to the EventsQueue.  Publish only
// enqueues; Run owns the broker connection and drains the buffer, so a
// slow or unreachable broker never holds up a request.
type Publisher struct {
	url  string
	out  chan outgoing
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher for the broker at url buffering up to
// buffer envelopes (256 when buffer <= 0).  Run must be started for
// anything to reach the broker.
func NewPublisher(url string, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Publisher{url: url, out: make(chan outgoing, buffer)}
}

// dial opens a broker connection with a bounded handshake.
func dial(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Locale: "en_US",
		Dial:   amqp.DefaultDial(dialTimeout),
	})
}

// Publish implements notify.Publisher.  It never blocks.
func (p *Publisher) Publish(_ context.Context, topic notify.Topic, event string, payload any) error {
	env, err := notify.NewEnvelope(topic, event, payload)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event: %w", err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal envelope: %w", err)
	}
	select {
	case p.out <- outgoing{event: event, body: body}:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run delivers buffered envelopes until ctx is cancelled.  A message that
// cannot be delivered is retried with exponential backoff, keeping the
// queue in order.  Messages are persistent.
func (p *Publisher) Run(ctx context.Context) {
	defer p.reset()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.out:
			if !p.deliver(ctx, msg) {
				return
			}
		}
	}
}

// deliver retries msg until it is sent.  It reports false when ctx ended
// first.
func (p *Publisher) deliver(ctx context.Context, msg outgoing) bool {
	backoff := time.Second
	for {
		err := p.send(ctx, msg)
		if err == nil {
			return true
		}
		p.reset()
		log.Printf("rabbitmq: publish %s failed: %v; retrying in %s", msg.event, err, backoff)
		if !sleep(ctx, backoff) {
			return false
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (p *Publisher) send(ctx context.Context, msg outgoing) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return ch.PublishWithContext(ctx, "", EventsQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         msg.event,
		Body:         msg.body,
	})
}

// channel returns the open channel, dialing when needed.  Only Run's
// goroutine touches the connection.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(EventsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}
