package calendarapi

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/bookingcal/project/internal/app/booking"
	"github.com/bookingcal/project/internal/calendar"
	"github.com/bookingcal/project/internal/config"
	"github.com/bookingcal/project/internal/platform/metrics"
)

var layoutEvents = metrics.NewCounterVec("calendar_layout_events_total",
	"Events fed into view composition, by view.", "view")

// RosterSource lists the team member names used as the color pool.
type RosterSource interface {
	Roster(ctx context.Context) ([]string, error)
}

// Snapshot wraps a composed view. Sequence increases strictly across the
// process so clients can drop responses older than the last one applied.
type Snapshot[T any] struct {
	Sequence    uint64    `json:"sequence"`
	GeneratedAt time.Time `json:"generated_at"`
	Timezone    string    `json:"timezone"`
	TeamMember  string    `json:"team_member,omitempty"`
	View        T         `json:"view"`
}

type TeamColors struct {
	Members []string          `json:"members"`
	Colors  calendar.ColorMap `json:"colors"`
}

// Service loads rows through the booking service and composes calendar views.
type Service struct {
	Bookings *booking.Service
	Roster   RosterSource
	Config   *config.Config
	Colors   *calendar.ColorMapCache
	Now      func() time.Time

	normalizer calendar.Normalizer
	composer   calendar.Composer
	seq        atomic.Uint64
}

func NewService(bookings *booking.Service, roster RosterSource, cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Service{
		Bookings:   bookings,
		Roster:     roster,
		Config:     cfg,
		Colors:     &calendar.ColorMapCache{Palette: cfg.Palette},
		Now:        func() time.Time { return time.Now().UTC() },
		normalizer: cfg.Normalizer(),
		composer:   cfg.Composer(),
	}
}

func (s *Service) Location() *time.Location { return s.normalizer.Location }

func (s *Service) Today() calendar.Date {
	return calendar.DateOf(s.Now(), s.Location())
}

func wrap[T any](s *Service, teamMember string, view T) Snapshot[T] {
	return Snapshot[T]{
		Sequence:    s.seq.Add(1),
		GeneratedAt: s.Now(),
		Timezone:    s.Config.Timezone,
		TeamMember:  teamMember,
		View:        view,
	}
}

// TeamColors returns the roster and the color map built from it.
func (s *Service) TeamColors(ctx context.Context) (TeamColors, error) {
	pool, err := s.Roster.Roster(ctx)
	if err != nil {
		return TeamColors{}, err
	}
	return TeamColors{Members: pool, Colors: s.Colors.Get(pool)}, nil
}

// events loads the rows visible to actor and normalizes them for [from, to].
// Recurring expansion is widened by a day on each side because stored dates
// are UTC while the range is in display dates.
func (s *Service) events(ctx context.Context, actor booking.Actor, teamMember string, from, to calendar.Date) ([]calendar.Event, calendar.ColorMap, error) {
	bookings, tasks, err := s.Bookings.Snapshot(ctx, actor, teamMember)
	if err != nil {
		return nil, nil, err
	}
	team, err := s.TeamColors(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s.normalizer.Events(bookings, tasks, from.AddDays(-1), to.AddDays(1)), team.Colors, nil
}

func (s *Service) Day(ctx context.Context, actor booking.Actor, date calendar.Date, teamMember string, narrow bool) (Snapshot[calendar.DayView], error) {
	scope := actor.Scope(teamMember)
	events, colors, err := s.events(ctx, actor, scope, date, date)
	if err != nil {
		return Snapshot[calendar.DayView]{}, err
	}
	layoutEvents.Add(uint64(len(events)), "day")
	return wrap(s, scope, s.composer.Day(events, date, colors, narrow)), nil
}

func (s *Service) Week(ctx context.Context, actor booking.Actor, anchor calendar.Date, teamMember string, narrow bool) (Snapshot[calendar.WeekView], error) {
	scope := actor.Scope(teamMember)
	start := calendar.StartOfWeek(anchor, s.composer.WeekStart)
	events, colors, err := s.events(ctx, actor, scope, start, start.AddDays(6))
	if err != nil {
		return Snapshot[calendar.WeekView]{}, err
	}
	layoutEvents.Add(uint64(len(events)), "week")
	return wrap(s, scope, s.composer.Week(events, anchor, colors, narrow)), nil
}

func (s *Service) Month(ctx context.Context, actor booking.Actor, year int, month time.Month, teamMember string) (Snapshot[calendar.MonthView], error) {
	scope := actor.Scope(teamMember)
	first := calendar.Date{Year: year, Month: month, Day: 1}
	start := calendar.StartOfWeek(first, s.composer.WeekStart)
	events, colors, err := s.events(ctx, actor, scope, start, start.AddDays(41))
	if err != nil {
		return Snapshot[calendar.MonthView]{}, err
	}
	layoutEvents.Add(uint64(len(events)), "month")
	return wrap(s, scope, s.composer.Month(events, year, month, colors)), nil
}

func (s *Service) Upcoming(ctx context.Context, actor booking.Actor, q calendar.UpcomingQuery) (Snapshot[calendar.UpcomingView], error) {
	q.TeamMember = actor.Scope(q.TeamMember)
	today := s.Today()
	events, colors, err := s.events(ctx, actor, q.TeamMember, today, today.AddDays(s.Config.HorizonDays))
	if err != nil {
		return Snapshot[calendar.UpcomingView]{}, err
	}
	layoutEvents.Add(uint64(len(events)), "upcoming")
	return wrap(s, q.TeamMember, s.composer.Upcoming(events, today, q, colors)), nil
}

// WriteFeed writes an ICS feed covering the past week through the horizon.
func (s *Service) WriteFeed(ctx context.Context, w io.Writer, actor booking.Actor, teamMember string) error {
	today := s.Today()
	events, _, err := s.events(ctx, actor, actor.Scope(teamMember), today.AddDays(-7), today.AddDays(s.Config.HorizonDays))
	if err != nil {
		return err
	}
	layoutEvents.Add(uint64(len(events)), "ics")
	return calendar.WriteICS(w, events, calendar.DefaultProductID, s.Now())
}
