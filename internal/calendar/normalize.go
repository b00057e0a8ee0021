package calendar

import (
	"math"
	"strings"
	"time"
)

const DefaultDurationMinutes = 60

var timeOfDayLayouts = []string{"15:04:05.999999", "15:04:05", "15:04"}

// Normalizer turns store rows into Events. All timezone conversion happens here.
type Normalizer struct {
	// Location is the display timezone used for date buckets.
	Location *time.Location
	// BookingOffset is a fixed correction added to stored booking timestamps.
	BookingOffset time.Duration
	// DefaultDuration applies to bookings with a missing or non-positive duration.
	DefaultDuration int
}

func NewNormalizer(loc *time.Location) Normalizer {
	return Normalizer{Location: loc, DefaultDuration: DefaultDurationMinutes}
}

func (n Normalizer) loc() *time.Location {
	if n.Location == nil {
		return time.UTC
	}
	return n.Location
}

func (n Normalizer) defaultDuration() int {
	if n.DefaultDuration <= 0 {
		return DefaultDurationMinutes
	}
	return n.DefaultDuration
}

func minutes(m int) time.Duration { return time.Duration(m) * time.Minute }

// Booking normalizes a booking row. A row without a timestamp comes back untimed.
func (n Normalizer) Booking(r BookingRecord) Event {
	e := Event{
		ID:         r.ID,
		Title:      r.Title,
		TeamMember: strings.TrimSpace(r.TeamMember),
		Source:     SourceBooking,
		Booking: &BookingDetails{
			Summary:       r.Summary,
			MeetingLink:   r.MeetingLink,
			PaymentStatus: r.PaymentStatus,
			TypeOfMeeting: r.TypeOfMeeting,
			Description:   r.Description,
			CustomerName:  r.CustomerName,
			CustomerEmail: r.CustomerEmail,
			PhoneNumber:   r.PhoneNumber,
		},
	}
	e.DurationMinutes = n.defaultDuration()
	if r.DurationMinutes != nil && *r.DurationMinutes > 0 {
		e.DurationMinutes = *r.DurationMinutes
	}
	if r.BookingTime == nil || r.BookingTime.IsZero() {
		return e
	}
	start := r.BookingTime.Add(n.BookingOffset)
	e.Start = start
	e.End = start.Add(minutes(e.DurationMinutes))
	e.Date = DateOf(start, n.loc())
	return e
}

// RecurringTask composes the stored date with the UTC wall-clock start and end
// times. The date bucket is re-derived in the display timezone.
func (n Normalizer) RecurringTask(r RecurringTaskRecord) Event {
	e := Event{
		ID:              RecurringIDPrefix + r.ID,
		Title:           r.Title,
		TeamMember:      strings.TrimSpace(r.TeamMember),
		Source:          SourceRecurringTask,
		DurationMinutes: n.defaultDuration(),
		Recurring: &RecurringDetails{
			TaskID:        r.ID,
			RecurringDays: WeekdayNames(ParseWeekdays(r.SelectedDays)),
		},
	}

	date, err := ParseDate(r.Date)
	if err != nil {
		return e
	}
	startOffset, ok := parseTimeOfDay(r.StartTime)
	if !ok {
		e.Date = date
		return e
	}
	start := date.Midnight(time.UTC).Add(startOffset)

	if endOffset, ok := parseTimeOfDay(r.EndTime); ok {
		d := int(math.Round((endOffset - startOffset).Minutes()))
		if d < 1 {
			d = 1
		}
		e.DurationMinutes = d
	}
	e.Start = start
	e.End = start.Add(minutes(e.DurationMinutes))
	e.Date = DateOf(start, n.loc())
	return e
}

// RecurringTaskOccurrences expands r over [from, to] and normalizes each
// occurrence. The occurrence on the stored date keeps the plain recurring id.
func (n Normalizer) RecurringTaskOccurrences(r RecurringTaskRecord, from, to Date) []Event {
	stored, err := ParseDate(r.Date)
	if err != nil {
		return []Event{n.RecurringTask(r)}
	}
	dates := OccurrenceDates(stored, ParseWeekdays(r.SelectedDays), from, to)
	out := make([]Event, 0, len(dates))
	for _, d := range dates {
		occ := r
		occ.Date = d.String()
		e := n.RecurringTask(occ)
		if d != stored {
			e.ID = RecurringIDPrefix + r.ID + "-" + strings.ReplaceAll(d.String(), "-", "")
		}
		out = append(out, e)
	}
	return out
}

// Events normalizes a store snapshot for [from, to]. Inactive bookings are
// skipped; bookings are not range-filtered here.
func (n Normalizer) Events(bookings []BookingRecord, tasks []RecurringTaskRecord, from, to Date) []Event {
	out := make([]Event, 0, len(bookings)+len(tasks))
	for _, b := range bookings {
		if !b.Live() {
			continue
		}
		out = append(out, n.Booking(b))
	}
	for _, t := range tasks {
		out = append(out, n.RecurringTaskOccurrences(t, from, to)...)
	}
	return out
}

func parseTimeOfDay(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "Z")
	raw = strings.TrimSuffix(raw, "+00")
	if raw == "" {
		return 0, false
	}
	for _, layout := range timeOfDayLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		return time.Duration(t.Hour())*time.Hour +
			time.Duration(t.Minute())*time.Minute +
			time.Duration(t.Second())*time.Second, true
	}
	return 0, false
}
