package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	BookingsStream   = "BOOKINGS"
	BookingsSubjects = "cal.booking.>"
	// DeletedSubjects matches cal.booking.{shard}.deleted.{id} across shards.
	DeletedSubjects  = "cal.booking.*.deleted.*"

	// NotifierQueue is the durable queue group of the webhook notifier.
	NotifierQueue = "booking-notifier"
)

// EnsureStreams creates the BOOKINGS stream if it does not exist yet.
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(BookingsStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:      BookingsStream,
			Subjects:  []string{BookingsSubjects},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
			Replicas:  1,
			MaxAge:    7 * 24 * time.Hour,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}
