package calendar

import (
	"reflect"
	"testing"
	"time"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestNormalizerBooking(t *testing.T) {
	start := time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC)
	n := NewNormalizer(time.FixedZone("IST", 5*3600+30*60))

	e := n.Booking(BookingRecord{
		ID:              "b1",
		Title:           "Consult",
		BookingTime:     &start,
		DurationMinutes: intPtr(45),
		TeamMember:      " Gauri ",
		CustomerName:    "Jane",
	})

	if e.Source != SourceBooking || e.Booking == nil || e.Recurring != nil {
		t.Fatalf("unexpected variant: %+v", e)
	}
	if e.DurationMinutes != 45 || !e.End.Equal(start.Add(45*time.Minute)) {
		t.Fatalf("unexpected range: %v..%v (%d)", e.Start, e.End, e.DurationMinutes)
	}
	if e.Date != (Date{Year: 2025, Month: time.March, Day: 11}) {
		t.Fatalf("expected date bucketed in display timezone, got %v", e.Date)
	}
	if e.TeamMember != "Gauri" {
		t.Fatalf("expected trimmed team member, got %q", e.TeamMember)
	}
}

func TestNormalizerBooking_Defaults(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	n := NewNormalizer(time.UTC)

	for _, d := range []*int{nil, intPtr(0), intPtr(-15)} {
		e := n.Booking(BookingRecord{ID: "b", BookingTime: &start, DurationMinutes: d})
		if e.DurationMinutes != 60 || !e.End.After(e.Start) {
			t.Fatalf("expected default 60 minute range, got %d", e.DurationMinutes)
		}
	}

	untimed := n.Booking(BookingRecord{ID: "no-time"})
	if untimed.Timed() || !untimed.Date.IsZero() {
		t.Fatalf("expected untimed event, got %+v", untimed)
	}
}

func TestNormalizerBooking_Offset(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	n := NewNormalizer(time.UTC)
	n.BookingOffset = -330 * time.Minute

	e := n.Booking(BookingRecord{ID: "b", BookingTime: &start})
	if want := time.Date(2025, 3, 10, 3, 30, 0, 0, time.UTC); !e.Start.Equal(want) {
		t.Fatalf("expected corrected start %v, got %v", want, e.Start)
	}
}

func TestNormalizerRecurringTask(t *testing.T) {
	n := NewNormalizer(time.UTC)
	e := n.RecurringTask(RecurringTaskRecord{
		ID:           "42",
		TeamMember:   "Monica",
		Title:        "Lunch",
		Date:         "2025-03-10",
		StartTime:    "12:00",
		EndTime:      "12:45:00",
		SelectedDays: "Monday, wed,Funday",
	})

	if e.ID != "recurring-42" || e.Source != SourceRecurringTask || e.Booking != nil {
		t.Fatalf("unexpected identity: %+v", e)
	}
	if e.DurationMinutes != 45 {
		t.Fatalf("expected 45 minutes, got %d", e.DurationMinutes)
	}
	if want := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC); !e.Start.Equal(want) {
		t.Fatalf("expected start %v, got %v", want, e.Start)
	}
	if !reflect.DeepEqual(e.Recurring.RecurringDays, []string{"Monday", "Wednesday"}) {
		t.Fatalf("unexpected days: %v", e.Recurring.RecurringDays)
	}
}

func TestNormalizerRecurringTask_RebucketsDate(t *testing.T) {
	n := NewNormalizer(time.FixedZone("EST", -5*3600))
	e := n.RecurringTask(RecurringTaskRecord{ID: "1", Title: "Night slot", Date: "2025-03-10", StartTime: "02:00", EndTime: "03:00"})
	if e.Date != (Date{Year: 2025, Month: time.March, Day: 9}) {
		t.Fatalf("expected date shifted to display timezone, got %v", e.Date)
	}
}

func TestNormalizerRecurringTask_ClampsDuration(t *testing.T) {
	n := NewNormalizer(time.UTC)
	for _, end := range []string{"10:00", "09:00"} {
		e := n.RecurringTask(RecurringTaskRecord{ID: "1", Title: "t", Date: "2025-03-10", StartTime: "10:00", EndTime: end})
		if e.DurationMinutes != 1 || !e.End.After(e.Start) {
			t.Fatalf("end %s: expected 1 minute clamp, got %d", end, e.DurationMinutes)
		}
	}
}

func TestNormalizerRecurringTask_Malformed(t *testing.T) {
	n := NewNormalizer(time.UTC)

	badDate := n.RecurringTask(RecurringTaskRecord{ID: "1", Title: "t", Date: "10/03/2025", StartTime: "10:00"})
	if badDate.Timed() {
		t.Fatalf("expected bad date to be untimed")
	}

	badTime := n.RecurringTask(RecurringTaskRecord{ID: "2", Title: "t", Date: "2025-03-10", StartTime: "ten"})
	if badTime.Timed() || badTime.Date != (Date{Year: 2025, Month: time.March, Day: 10}) {
		t.Fatalf("expected untimed event keeping stored date, got %+v", badTime)
	}

	out := LayoutDay([]Event{badDate, badTime}, 3, 40, time.UTC)
	if len(out) != 0 {
		t.Fatalf("malformed events must not be positioned, got %d", len(out))
	}
}

func TestNormalizerEvents_SkipsInactive(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	n := NewNormalizer(time.UTC)
	events := n.Events(
		[]BookingRecord{
			{ID: "live", BookingTime: &start},
			{ID: "unknown", BookingTime: &start, IsActive: nil},
			{ID: "gone", BookingTime: &start, IsActive: boolPtr(false)},
		},
		[]RecurringTaskRecord{{ID: "r", Title: "Lunch", Date: "2025-03-10", StartTime: "12:00", EndTime: "13:00"}},
		testDay, testDay.AddDays(6),
	)
	var ids []string
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	if !reflect.DeepEqual(ids, []string{"live", "unknown", "recurring-r"}) {
		t.Fatalf("unexpected events: %v", ids)
	}
}
