package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Source tags the store table an Event was derived from.
type Source string

const (
	SourceBooking       Source = "booking"
	SourceRecurringTask Source = "recurring_task"
)

// RecurringIDPrefix keeps recurring-task event ids out of the booking id namespace.
const RecurringIDPrefix = "recurring-"

const dateLayout = "2006-01-02"

// Date is a calendar bucket in the display timezone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return DateOf(t, time.UTC), nil
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Midnight returns the first instant of the day in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC), time.UTC)
}

func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// DaysUntil counts whole days from d to other; negative when other is earlier.
func (d Date) DaysUntil(other Date) int {
	a := time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
	b := time.Date(other.Year, other.Month, other.Day, 12, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// BookingDetails is carried only by booking events.
type BookingDetails struct {
	Summary       string `json:"summary,omitempty"`
	MeetingLink   string `json:"meeting_link,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	TypeOfMeeting string `json:"type_of_meeting,omitempty"`
	Description   string `json:"description,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
}

// RecurringDetails is carried only by recurring-task events.
type RecurringDetails struct {
	TaskID        string   `json:"task_id"`
	RecurringDays []string `json:"recurring_days,omitempty"`
}

// Event is the unit the layout engine operates on. Exactly one of Booking or
// Recurring is set, matching Source.
type Event struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Date            Date              `json:"date,omitzero"`
	Start           time.Time         `json:"start_time,omitzero"`
	End             time.Time         `json:"end_time,omitzero"`
	DurationMinutes int               `json:"duration_minutes"`
	TeamMember      string            `json:"team_member,omitempty"`
	Source          Source            `json:"source"`
	Booking         *BookingDetails   `json:"booking,omitempty"`
	Recurring       *RecurringDetails `json:"recurring,omitempty"`
}

// Timed reports whether the event has a resolvable start and can be positioned.
func (e Event) Timed() bool { return !e.Start.IsZero() }

func (e Event) IsRecurring() bool { return e.Source == SourceRecurringTask }

// BookingRecord is a row of the bookings table.
type BookingRecord struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Summary         string     `json:"summary"`
	BookingTime     *time.Time `json:"booking_time"`
	MeetingLink     string     `json:"meeting_link"`
	TeamMember      string     `json:"team_member"`
	DurationMinutes *int       `json:"duration"`
	CustomerName    string     `json:"customer_name"`
	CustomerEmail   string     `json:"customer_email"`
	PhoneNumber     string     `json:"phone_number"`
	PaymentStatus   string     `json:"payment_status"`
	IsActive        *bool      `json:"is_active"`
	TypeOfMeeting   string     `json:"type_of_meeting"`
	Description     string     `json:"description"`
}

// Live reports whether the row should be shown. A missing flag counts as live.
func (r BookingRecord) Live() bool {
	return r.IsActive == nil || *r.IsActive
}

// RecurringTaskRecord is a row of the recurring_tasks table. Date and times are
// stored as text: date as YYYY-MM-DD, times as HH:MM or HH:MM:SS UTC wall-clock.
type RecurringTaskRecord struct {
	ID           string `json:"id"`
	TeamMember   string `json:"team_member"`
	Title        string `json:"title"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	SelectedDays string `json:"selected_days"`
}
