package calendar

import (
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

const DefaultProductID = "-//bookingcal//calendar//EN"

// WriteICS serializes the timed events as a VCALENDAR feed. Untimed events are skipped.
func WriteICS(w io.Writer, events []Event, productID string, stamp time.Time) error {
	if productID == "" {
		productID = DefaultProductID
	}
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)

	for _, e := range events {
		if !e.Timed() {
			continue
		}
		ev := cal.AddEvent(e.ID)
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(e.Start.UTC())
		ev.SetEndAt(e.End.UTC())
		ev.SetSummary(DisplayTitle(e))
		ev.AddProperty(ics.ComponentPropertyCategories, string(e.Source))
		if desc := icsDescription(e); desc != "" {
			ev.SetDescription(desc)
		}
		if e.Booking != nil {
			if link, ok := Sanitize(e.Booking.MeetingLink); ok {
				ev.SetURL(link)
			}
		}
	}
	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func icsDescription(e Event) string {
	var lines []string
	if e.TeamMember != "" {
		lines = append(lines, "Team member: "+e.TeamMember)
	}
	if e.Booking != nil {
		lines = append(lines,
			"Email: "+CustomerEmailDisplay(e),
			"Phone: "+CustomerPhoneDisplay(e),
		)
		if t, ok := Sanitize(e.Booking.TypeOfMeeting); ok {
			lines = append(lines, "Meeting: "+t)
		}
		if d, ok := Sanitize(e.Booking.Description); ok {
			lines = append(lines, d)
		}
	}
	return strings.Join(lines, "\n")
}
