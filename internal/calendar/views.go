package calendar

import (
	"sort"
	"strings"
	"time"
)

const (
	DefaultMonthMaxTags      = 3
	DefaultCompactMaxColumns = 3
	DefaultCompactNudgePx    = 6.0
)

// StartOfWeek returns the first day of the week containing d.
func StartOfWeek(d Date, weekStart time.Weekday) Date {
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDays(-offset)
}

// Placement maps a Positioned event to relative horizontal geometry.
type Placement struct {
	LeftPercent  float64 `json:"left_percent"`
	WidthPercent float64 `json:"width_percent"`
	NudgePx      float64 `json:"nudge_px"`
	// Shared marks a card that splits its slot with overlapping events and
	// gets the condensed rendering.
	Shared  bool `json:"shared"`
	Stacked bool `json:"stacked"`
}

// Compaction caps rendered columns on narrow viewports. It reads ColumnIndex
// and TotalColumns but never changes them.
type Compaction struct {
	MaxColumns int
	NudgePx    float64
}

func (c Compaction) Place(p Positioned, narrow bool) Placement {
	visible := p.TotalColumns
	if visible < 1 {
		visible = 1
	}
	if narrow && c.MaxColumns > 0 && visible > c.MaxColumns {
		visible = c.MaxColumns
	}
	col := p.ColumnIndex
	pl := Placement{Shared: p.TotalColumns >= 2}
	if col >= visible {
		overflow := col - visible + 1
		col = visible - 1
		pl.NudgePx = float64(overflow) * c.NudgePx
		pl.Stacked = true
	}
	pl.WidthPercent = 100 / float64(visible)
	pl.LeftPercent = float64(col) * pl.WidthPercent
	return pl
}

// Tag is an event decorated for list-style rendering.
type Tag struct {
	Event     Event  `json:"event"`
	Color     Color  `json:"color"`
	Title     string `json:"display_title"`
	TimeLabel string `json:"time_label"`
}

// Card is a positioned event decorated for timeline rendering.
type Card struct {
	Positioned
	Color     Color     `json:"color"`
	Title     string    `json:"display_title"`
	TimeLabel string    `json:"time_label"`
	Placement Placement `json:"placement"`
}

type DayView struct {
	Date  Date   `json:"date"`
	Cards []Card `json:"cards"`
}

type WeekView struct {
	Start Date      `json:"start"`
	Days  []DayView `json:"days"`
}

type MonthCell struct {
	Date    Date  `json:"date"`
	InMonth bool  `json:"in_month"`
	Tags    []Tag `json:"tags"`
	More    int   `json:"more"`
}

type MonthView struct {
	Year  int           `json:"year"`
	Month time.Month    `json:"month"`
	Weeks [][]MonthCell `json:"weeks"`
}

type UpcomingSection struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Items []Tag  `json:"items"`
}

type UpcomingView struct {
	Sections []UpcomingSection `json:"sections"`
	Total    int               `json:"total"`
}

// UpcomingQuery narrows the upcoming list.
type UpcomingQuery struct {
	Search     string
	TeamMember string
}

var upcomingOrder = []struct{ key, title string }{
	{"today", "Today"},
	{"tomorrow", "Tomorrow"},
	{"thisWeek", "This Week"},
	{"nextWeek", "Next Week"},
	{"later", "Later"},
}

// Composer arranges normalized events into the calendar surfaces.
type Composer struct {
	Engine       Engine
	Resolver     Resolver
	Compaction   Compaction
	WeekStart    time.Weekday
	MonthMaxTags int
}

func NewComposer(loc *time.Location) Composer {
	return Composer{
		Engine:       NewEngine(loc),
		Resolver:     NewResolver(),
		Compaction:   Compaction{MaxColumns: DefaultCompactMaxColumns, NudgePx: DefaultCompactNudgePx},
		WeekStart:    time.Monday,
		MonthMaxTags: DefaultMonthMaxTags,
	}
}

func (c Composer) tag(e Event, colors ColorMap) Tag {
	return Tag{
		Event:     e,
		Color:     c.Resolver.Resolve(e, colors),
		Title:     DisplayTitle(e),
		TimeLabel: TimeLabel(e, c.Engine.Location),
	}
}

func (c Composer) cards(positioned []Positioned, colors ColorMap, narrow bool) []Card {
	out := make([]Card, 0, len(positioned))
	for _, p := range positioned {
		out = append(out, Card{
			Positioned: p,
			Color:      c.Resolver.Resolve(p.Event, colors),
			Title:      DisplayTitle(p.Event),
			TimeLabel:  TimeLabel(p.Event, c.Engine.Location),
			Placement:  c.Compaction.Place(p, narrow),
		})
	}
	return out
}

func (c Composer) Day(events []Event, date Date, colors ColorMap, narrow bool) DayView {
	return DayView{Date: date, Cards: c.cards(c.Engine.Day(events, date), colors, narrow)}
}

// Week lays out the seven days of the week containing anchor.
func (c Composer) Week(events []Event, anchor Date, colors ColorMap, narrow bool) WeekView {
	start := StartOfWeek(anchor, c.WeekStart)
	dates := make([]Date, 7)
	for i := range dates {
		dates[i] = start.AddDays(i)
	}
	laid := c.Engine.Days(events, dates)
	view := WeekView{Start: start, Days: make([]DayView, 7)}
	for i, d := range dates {
		view.Days[i] = DayView{Date: d, Cards: c.cards(laid[i], colors, narrow)}
	}
	return view
}

// Month builds whole weeks covering the month. Cells list timed events by
// start and cap the tag count, reporting the remainder in More.
func (c Composer) Month(events []Event, year int, month time.Month, colors ColorMap) MonthView {
	first := Date{Year: year, Month: month, Day: 1}
	last := first.AddDays(time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day() - 1)

	byDate := map[Date][]Event{}
	for _, e := range events {
		if e.Timed() {
			byDate[e.Date] = append(byDate[e.Date], e)
		}
	}

	maxTags := c.MonthMaxTags
	if maxTags <= 0 {
		maxTags = DefaultMonthMaxTags
	}

	view := MonthView{Year: year, Month: month}
	for weekStart := StartOfWeek(first, c.WeekStart); !last.Before(weekStart); weekStart = weekStart.AddDays(7) {
		week := make([]MonthCell, 7)
		for i := range week {
			d := weekStart.AddDays(i)
			dayEvents := append([]Event(nil), byDate[d]...)
			sort.SliceStable(dayEvents, func(a, b int) bool { return dayEvents[a].Start.Before(dayEvents[b].Start) })
			cell := MonthCell{Date: d, InMonth: d.Month == month && d.Year == year, Tags: []Tag{}}
			for j, e := range dayEvents {
				if j >= maxTags {
					cell.More = len(dayEvents) - maxTags
					break
				}
				cell.Tags = append(cell.Tags, c.tag(e, colors))
			}
			week[i] = cell
		}
		view.Weeks = append(view.Weeks, week)
	}
	return view
}

// Upcoming groups events dated today or later into relative sections.
// Untimed events without a date fall into Later.
func (c Composer) Upcoming(events []Event, today Date, q UpcomingQuery, colors ColorMap) UpcomingView {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	member := strings.TrimSpace(q.TeamMember)

	filtered := make([]Event, 0, len(events))
	for _, e := range events {
		if !e.Date.IsZero() && e.Date.Before(today) {
			continue
		}
		if member != "" && !strings.EqualFold(e.TeamMember, member) {
			continue
		}
		if search != "" && !strings.Contains(haystack(e), search) {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return sortKey(filtered[i], c.Engine.Location).Before(sortKey(filtered[j], c.Engine.Location))
	})

	endOfWeek := StartOfWeek(today, c.WeekStart).AddDays(6)
	endOfNextWeek := endOfWeek.AddDays(7)
	buckets := map[string][]Tag{}
	for _, e := range filtered {
		key := "later"
		switch {
		case e.Date.IsZero():
		case e.Date == today:
			key = "today"
		case e.Date == today.AddDays(1):
			key = "tomorrow"
		case !endOfWeek.Before(e.Date):
			key = "thisWeek"
		case !endOfNextWeek.Before(e.Date):
			key = "nextWeek"
		}
		buckets[key] = append(buckets[key], c.tag(e, colors))
	}

	view := UpcomingView{Sections: []UpcomingSection{}}
	for _, s := range upcomingOrder {
		items := buckets[s.key]
		if len(items) == 0 {
			continue
		}
		view.Sections = append(view.Sections, UpcomingSection{Key: s.key, Title: s.title, Items: items})
		view.Total += len(items)
	}
	return view
}

func haystack(e Event) string {
	desc := ""
	if e.Booking != nil {
		desc = e.Booking.Description
	}
	return strings.ToLower(e.Title + " " + desc + " " + e.TeamMember)
}

func sortKey(e Event, loc *time.Location) time.Time {
	if e.Timed() {
		return e.Start
	}
	if !e.Date.IsZero() {
		return e.Date.Midnight(loc)
	}
	return time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
}
