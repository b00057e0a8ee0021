package sharding

import (
	"fmt"
	"testing"
)

func TestGetShardID(t *testing.T) {
	tests := []struct {
		entityID string
		want     int
	}{
		{"b-1", 9},
		{"b-2", 51},
		{"booking-abc", 2},
	}

	for _, tt := range tests {
		t.Run(tt.entityID, func(t *testing.T) {
			if got := GetShardID(tt.entityID); got != tt.want {
				t.Errorf("GetShardID(%q) = %v, want %v", tt.entityID, got, tt.want)
			}
		})
	}
}

func TestGetSubject(t *testing.T) {
	subject := GetSubject("deleted", "b-1")
	expected := "cal.booking.9.deleted.b-1"
	if subject != expected {
		t.Errorf("GetSubject = %v, want %v", subject, expected)
	}
}

func TestDistribution(t *testing.T) {
	distribution := make(map[int]int)
	for i := 0; i < 1000; i++ {
		distribution[GetShardID(fmt.Sprintf("booking-%d", i))]++
	}
	if len(distribution) < ShardCount/2 {
		t.Errorf("sharding distribution is too poor: %d of %d shards used for 1000 keys", len(distribution), ShardCount)
	}
}
