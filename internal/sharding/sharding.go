package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the number of booking notification partitions.
const ShardCount = 64

// SubjectPrefix is the root of all booking subjects on the bus.
const SubjectPrefix = "cal.booking"

// GetShardID calculates the deterministic shard ID for a given entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// GetSubject returns the NATS subject for an event about a booking.
// Format: cal.booking.{shard_id}.{kind}.{booking_id}
func GetSubject(kind, bookingID string) string {
	return fmt.Sprintf("%s.%d.%s.%s", SubjectPrefix, GetShardID(bookingID), kind, bookingID)
}
