package natsutil

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestDispositionString(t *testing.T) {
	for d, want := range map[Disposition]string{Ack: "ack", Nak: "nak", Term: "term", Disposition(9): "unknown"} {
		if got := d.String(); got != want {
			t.Fatalf("Disposition(%d).String() = %q, want %q", int(d), got, want)
		}
	}
}

func TestSettleRequiresBoundMessage(t *testing.T) {
	msg := &nats.Msg{Subject: "cal.booking.9.deleted.b-1"}
	for _, d := range []Disposition{Ack, Nak, Term} {
		if err := Settle(msg, d); !errors.Is(err, nats.ErrMsgNotBound) {
			t.Fatalf("Settle(%s) err = %v, want ErrMsgNotBound", d, err)
		}
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	c.Close()
	if err := c.Connected(); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestRetryDelayBacksOff(t *testing.T) {
	tests := []struct {
		delivered uint64
		want      time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 5 * time.Second},
		{4, 2 * time.Minute},
		{5, 10 * time.Minute},
		{40, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.delivered); got != tt.want {
			t.Fatalf("RetryDelay(%d) = %s, want %s", tt.delivered, got, tt.want)
		}
	}
}

func TestDeliveredCountReadsAckReply(t *testing.T) {
	msg := &nats.Msg{
		Sub:   &nats.Subscription{},
		Reply: "$JS.ACK.BOOKINGS.booking-notifier.3.10.20.1741581000000000000.0",
	}
	if got := deliveredCount(msg); got != 3 {
		t.Fatalf("deliveredCount = %d, want 3", got)
	}
	if got := deliveredCount(&nats.Msg{}); got != 1 {
		t.Fatalf("unbound message should count as first delivery, got %d", got)
	}
}
