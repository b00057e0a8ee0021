package calendar

import (
	"sort"
	"time"
)

const (
	DefaultPixelsPerMinute = 3.0
	DefaultMinEventHeight  = 40.0
)

// Positioned is an Event placed on a day timeline. It is recomputed on every
// layout call and never stored.
type Positioned struct {
	Event        Event   `json:"event"`
	Top          float64 `json:"top"`
	Height       float64 `json:"height"`
	ColumnIndex  int     `json:"column_index"`
	TotalColumns int     `json:"total_columns"`
}

// Overlaps is the half-open interval test; touching endpoints do not overlap.
func Overlaps(a, b Event) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// LayoutDay positions the timed events of one day. Events are partitioned into
// overlap-connected components and each component is packed greedily into the
// fewest columns. Output is ordered by (Top, ColumnIndex).
func LayoutDay(events []Event, pixelsPerMinute, minHeightPx float64, loc *time.Location) []Positioned {
	if loc == nil {
		loc = time.UTC
	}
	timed := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Timed() {
			timed = append(timed, e)
		}
	}
	if len(timed) == 0 {
		return []Positioned{}
	}

	out := make([]Positioned, 0, len(timed))
	for _, component := range overlapComponents(timed) {
		out = append(out, packComponent(timed, component, pixelsPerMinute, minHeightPx, loc)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Top != out[j].Top {
			return out[i].Top < out[j].Top
		}
		return out[i].ColumnIndex < out[j].ColumnIndex
	})
	return out
}

// overlapComponents returns index sets of the connected components of the
// overlap graph, found breadth-first. Indices within a component are ascending.
func overlapComponents(events []Event) [][]int {
	visited := make([]bool, len(events))
	var components [][]int
	for i := range events {
		if visited[i] {
			continue
		}
		visited[i] = true
		queue := []int{i}
		var component []int
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			component = append(component, cur)
			for j := range events {
				if visited[j] || !Overlaps(events[cur], events[j]) {
					continue
				}
				visited[j] = true
				queue = append(queue, j)
			}
		}
		sort.Ints(component)
		components = append(components, component)
	}
	return components
}

func packComponent(events []Event, component []int, ppm, minHeight float64, loc *time.Location) []Positioned {
	order := append([]int(nil), component...)
	sort.SliceStable(order, func(a, b int) bool {
		return events[order[a]].Start.Before(events[order[b]].Start)
	})

	var columnEnds []time.Time
	columnOf := make(map[int]int, len(order))
	for _, idx := range order {
		e := events[idx]
		placed := false
		for col, end := range columnEnds {
			if !end.After(e.Start) {
				columnEnds[col] = e.End
				columnOf[idx] = col
				placed = true
				break
			}
		}
		if !placed {
			columnOf[idx] = len(columnEnds)
			columnEnds = append(columnEnds, e.End)
		}
	}

	total := len(columnEnds)
	if total < 1 {
		total = 1
	}
	out := make([]Positioned, 0, len(order))
	for _, idx := range order {
		e := events[idx]
		local := e.Start.In(loc)
		minutesSinceMidnight := float64(local.Hour()*60 + local.Minute())
		height := float64(e.DurationMinutes) * ppm
		if height < minHeight {
			height = minHeight
		}
		out = append(out, Positioned{
			Event:        e,
			Top:          minutesSinceMidnight * ppm,
			Height:       height,
			ColumnIndex:  columnOf[idx],
			TotalColumns: total,
		})
	}
	return out
}

// PartitionByDate groups events by their date bucket, keeping input order.
func PartitionByDate(events []Event) map[Date][]Event {
	out := map[Date][]Event{}
	for _, e := range events {
		out[e.Date] = append(out[e.Date], e)
	}
	return out
}

// Engine carries the layout constants for one render.
type Engine struct {
	PixelsPerMinute float64
	MinHeight       float64
	Location        *time.Location
}

func NewEngine(loc *time.Location) Engine {
	return Engine{PixelsPerMinute: DefaultPixelsPerMinute, MinHeight: DefaultMinEventHeight, Location: loc}
}

// Day lays out the events bucketed on date.
func (g Engine) Day(events []Event, date Date) []Positioned {
	return LayoutDay(PartitionByDate(events)[date], g.PixelsPerMinute, g.MinHeight, g.Location)
}

// Days lays out each date independently; overlap never crosses a day.
func (g Engine) Days(events []Event, dates []Date) [][]Positioned {
	byDate := PartitionByDate(events)
	out := make([][]Positioned, len(dates))
	for i, d := range dates {
		out[i] = LayoutDay(byDate[d], g.PixelsPerMinute, g.MinHeight, g.Location)
	}
	return out
}
