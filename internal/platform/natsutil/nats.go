package natsutil

import (
	"context"
	"fmt"
	"time"

	"github.com/bookingcal/project/internal/messaging"
	"github.com/nats-io/nats.go"
)

type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

// ConnectJetStream dials url and provisions the booking stream. name shows up
// in the server's connection list.
func ConnectJetStream(url, name string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := messaging.EnsureStreams(js); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

func ConnectJetStreamWithRetry(url, name string, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ConnectJetStream(url, name)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// Connected reports whether the underlying connection is usable.
func (c *Client) Connected() error {
	if c == nil || c.Conn == nil {
		return fmt.Errorf("nats connection is nil")
	}
	if status := c.Conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats is not connected: %s", status.String())
	}
	return nil
}

type Publisher interface {
	Publish(subject string, payload []byte) error
}

type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

func (p JetStreamPublisher) Publish(subject string, payload []byte) error {
	_, err := p.JS.Publish(subject, payload)
	return err
}

// Disposition tells the consumer how to settle a message.
type Disposition int

const (
	Ack Disposition = iota
	Nak
	Term
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Term:
		return "term"
	default:
		return "unknown"
	}
}

// HandlerFunc processes one message payload and decides its disposition.
type HandlerFunc func(ctx context.Context, payload []byte) Disposition

// RetryBackoff holds the redelivery delay applied to a Nak, indexed by how
// many times the message has been delivered. The last entry repeats.
var RetryBackoff = []time.Duration{
	time.Second,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// MaxDeliveries bounds redelivery of a message that keeps failing.
const MaxDeliveries = 60

// RetryDelay returns the Nak delay after the given delivery count.
func RetryDelay(delivered uint64) time.Duration {
	if delivered == 0 {
		delivered = 1
	}
	i := delivered - 1
	if i >= uint64(len(RetryBackoff)) {
		i = uint64(len(RetryBackoff) - 1)
	}
	return RetryBackoff[i]
}

func deliveredCount(msg *nats.Msg) uint64 {
	md, err := msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}

// Settle applies d to msg. Naks are delayed by RetryDelay.
func Settle(msg *nats.Msg, d Disposition) error {
	switch d {
	case Term:
		return msg.Term()
	case Nak:
		return msg.NakWithDelay(RetryDelay(deliveredCount(msg)))
	default:
		return msg.Ack()
	}
}

// QueueConsume joins queue on subject with manual acks. Each message gets its
// own timeout derived from ctx.
func (c *Client) QueueConsume(ctx context.Context, subject, queue string, timeout time.Duration, handle HandlerFunc) (*nats.Subscription, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return c.JS.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		_ = Settle(msg, handle(msgCtx, msg.Data))
	}, nats.ManualAck(), nats.Durable(queue), nats.AckWait(2*timeout), nats.MaxDeliver(MaxDeliveries))
}
