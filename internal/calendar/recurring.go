package calendar

import (
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var weekdayByName = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var rruleWeekday = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// ParseWeekdays reads a comma-joined list of weekday names. Unknown names are
// ignored and duplicates collapse; order of first appearance is kept.
func ParseWeekdays(csv string) []time.Weekday {
	var out []time.Weekday
	seen := map[time.Weekday]bool{}
	for _, part := range strings.Split(csv, ",") {
		wd, ok := weekdayByName[strings.ToLower(strings.TrimSpace(part))]
		if !ok || seen[wd] {
			continue
		}
		seen[wd] = true
		out = append(out, wd)
	}
	return out
}

func WeekdayNames(days []time.Weekday) []string {
	if len(days) == 0 {
		return nil
	}
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.String()
	}
	return out
}

// OccurrenceDates lists the dates in [from, to] on which a task stored on
// start occurs. Without weekdays the task occurs once, on start. With weekdays
// it recurs weekly on those days from start onward; start itself always counts.
func OccurrenceDates(start Date, days []time.Weekday, from, to Date) []Date {
	if to.Before(from) {
		return nil
	}
	inRange := func(d Date) bool { return !d.Before(from) && !to.Before(d) }

	if len(days) == 0 {
		if inRange(start) {
			return []Date{start}
		}
		return nil
	}

	byDay := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		byDay = append(byDay, rruleWeekday[d])
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: byDay,
		Dtstart:   start.Midnight(time.UTC),
		Until:     to.Midnight(time.UTC),
	})
	if err != nil {
		if inRange(start) {
			return []Date{start}
		}
		return nil
	}

	seen := map[Date]bool{}
	var out []Date
	if inRange(start) {
		seen[start] = true
		out = append(out, start)
	}
	for _, t := range rule.Between(from.Midnight(time.UTC), to.Midnight(time.UTC), true) {
		d := DateOf(t, time.UTC)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
