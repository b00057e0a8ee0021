package frontend

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/a-h/templ"
	"github.com/bookingcal/project/internal/calendar"
)

// Page carries the chrome shared by every calendar page.
type Page struct {
	User            string
	Admin           bool
	Token           string
	TeamMember      string
	Members         []string
	Colors          calendar.ColorMap
	Timezone        string
	Sequence        uint64
	PixelsPerMinute float64
	Narrow          bool
}

// link builds a same-page URL that keeps the session token and filter.
func (p Page) link(path string, extra url.Values) string {
	q := url.Values{}
	if p.Token != "" {
		q.Set("token", p.Token)
	}
	if p.TeamMember != "" {
		q.Set("team_member", p.TeamMember)
	}
	if p.Narrow {
		q.Set("narrow", "1")
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func seqOf(p *Page) string {
	if p == nil {
		return "0"
	}
	return strconv.FormatUint(p.Sequence, 10)
}

func (p *Page) pixelsPerMinute() float64 {
	if p == nil || p.PixelsPerMinute <= 0 {
		return calendar.DefaultPixelsPerMinute
	}
	return p.PixelsPerMinute
}

type tab struct{ key, label string }

var tabs = []tab{{"month", "Month"}, {"week", "Week"}, {"day", "Day"}, {"upcoming", "Upcoming"}}

func tabClass(key, active string) string {
	if key == active {
		return "tab active"
	}
	return "tab"
}

func dateLink(p *Page, view string, d calendar.Date) string {
	return p.link("/ui/"+view, url.Values{"date": {d.String()}})
}

func dayTitle(d calendar.Date) string {
	return d.Midnight(nil).Format("Monday, 2 January 2006")
}

func weekTitle(d calendar.Date) string {
	return "Week of " + d.Midnight(nil).Format("2 Jan 2006")
}

func firstOfMonth(view calendar.MonthView) calendar.Date {
	return calendar.Date{Year: view.Year, Month: view.Month, Day: 1}
}

func monthTitle(view calendar.MonthView) string {
	return firstOfMonth(view).Midnight(nil).Format("January 2006")
}

// monthLink points at the month before (step < 0) or after the view.
func monthLink(p *Page, view calendar.MonthView, step int) string {
	d := firstOfMonth(view).AddDays(31)
	if step < 0 {
		d = firstOfMonth(view).AddDays(-1)
	}
	return p.link("/ui/month", url.Values{"month": {fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))}})
}

func px(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "px" }

func pct(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) + "%" }

func background(c calendar.Color) templ.SafeCSS {
	return templ.SafeCSS("background:" + string(c))
}

func borderLeft(c calendar.Color) templ.SafeCSS {
	return templ.SafeCSS("border-left-color:" + string(c))
}

func timelineStyle(p *Page) templ.SafeCSS {
	return templ.SafeCSS("height:" + px(24*60*p.pixelsPerMinute()))
}

func hourStyle(p *Page, h int) templ.SafeCSS {
	return templ.SafeCSS("top:" + px(float64(h*60)*p.pixelsPerMinute()))
}

func hourLabel(h int) string { return fmt.Sprintf("%02d:00", h) }

func cardClass(c calendar.Card) string {
	class := "card"
	if c.Placement.Shared {
		class += " shared"
	}
	if c.Placement.Stacked {
		class += " stacked"
	}
	if c.Event.IsRecurring() {
		class += " recurring"
	}
	return class
}

// cardStyle places a card on the timeline; the stacking nudge is folded
// into the top offset.
func cardStyle(c calendar.Card) templ.SafeCSS {
	return templ.SafeCSS("top:" + px(c.Top+c.Placement.NudgePx) +
		";height:" + px(c.Height) +
		";left:" + pct(c.Placement.LeftPercent) +
		";width:" + pct(c.Placement.WidthPercent) +
		";border-color:" + string(c.Color))
}

func cellClass(cell calendar.MonthCell) string {
	if !cell.InMonth {
		return "cell outside"
	}
	return "cell"
}

func tagWhen(tag calendar.Tag) string {
	if tag.Event.Date.IsZero() {
		return tag.TimeLabel
	}
	return tag.Event.Date.String() + " " + tag.TimeLabel
}

func contactLine(e calendar.Event) string {
	return calendar.CustomerEmailDisplay(e) + " · " + calendar.CustomerPhoneDisplay(e)
}
