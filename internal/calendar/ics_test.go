package calendar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
)

func TestWriteICS(t *testing.T) {
	booked := timedEvent("b1", 9, 0, 60)
	booked.Booking = &BookingDetails{CustomerName: "Jane", MeetingLink: "https://meet.example.com/abc"}
	booked.Title = "Consult"
	untimed := Event{ID: "b2", Title: "No time", Source: SourceBooking}

	var buf bytes.Buffer
	stamp := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := WriteICS(&buf, []Event{booked, untimed}, "", stamp); err != nil {
		t.Fatalf("WriteICS error: %v", err)
	}

	cal, err := ics.ParseCalendar(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("feed does not parse: %v", err)
	}
	events := cal.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 VEVENT, got %d", len(events))
	}
	ev := events[0]
	if ev.Id() != "b1" {
		t.Fatalf("unexpected uid %q", ev.Id())
	}
	if got := ev.GetProperty(ics.ComponentPropertySummary).Value; got != "Jane - Consult" {
		t.Fatalf("unexpected summary %q", got)
	}
	start, err := ev.GetStartAt()
	if err != nil || !start.Equal(booked.Start) {
		t.Fatalf("unexpected start %v (%v)", start, err)
	}
	if !strings.Contains(buf.String(), "https://meet.example.com/abc") {
		t.Fatalf("meeting link missing from feed")
	}
}
