package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bookingcal/project/internal/calendar"
	"github.com/bookingcal/project/internal/contracts"
	"github.com/bookingcal/project/internal/platform/auth"
	"github.com/bookingcal/project/internal/platform/metrics"
	"github.com/bookingcal/project/internal/sharding"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nuid"
)

var (
	ErrForbidden          = errors.New("insufficient permissions for this booking")
	ErrTeamMemberRequired = errors.New("team_member is required")
	ErrInvalidTimeRange   = errors.New("end_time must be after start_time")
	ErrSpansUTCMidnight   = errors.New("task crosses midnight UTC; split it into two tasks")
	ErrNotificationFailed = errors.New("booking deleted but notification could not be queued")
)

// MeetingTypes lists the accepted type_of_meeting values.
var MeetingTypes = []string{"On Call", "On Google Meet / Zoom Call", "In Person"}

// ValidationError names the request fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid fields: " + strings.Join(e.Fields, ", ")
}

var deletedTotal = metrics.NewCounterVec("calendar_bookings_deleted_total",
	"Bookings deactivated, partitioned by whether a notification was queued.", "notified")

type PublishFunc func(subject string, payload []byte) error

// Actor is the caller a request is evaluated for.
type Actor struct {
	Name  string
	Admin bool
}

func ActorFromClaims(c auth.Claims) Actor {
	return Actor{Name: strings.TrimSpace(c.Username), Admin: c.IsAdmin()}
}

// Scope resolves the team-member filter a caller may apply. Members are
// always scoped to themselves; admins get the requested filter.
func (a Actor) Scope(requested string) string {
	if !a.Admin {
		return a.Name
	}
	return strings.TrimSpace(requested)
}

// Owns reports whether a row for teamMember is visible to the actor.
func (a Actor) Owns(teamMember string) bool {
	return a.Admin || strings.EqualFold(strings.TrimSpace(teamMember), a.Name)
}

type Service struct {
	Repo     Repository
	Validate *validator.Validate
	// Location is the display timezone used to read request dates and times.
	Location *time.Location
	// BookingOffset mirrors the normalizer correction so stored rows round-trip.
	BookingOffset   time.Duration
	DefaultDuration int
	Publish         PublishFunc
	// Roster lists the display names rows may be assigned to. When set, an
	// admin-supplied team member is matched against it case-insensitively.
	Roster func(ctx context.Context) ([]string, error)
	Now    func() time.Time
	NewID  func() string
}

func NewService(repo Repository, loc *time.Location, publish PublishFunc) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		Repo:            repo,
		Validate:        NewValidator(),
		Location:        loc,
		DefaultDuration: calendar.DefaultDurationMinutes,
		Publish:         publish,
		Now:             func() time.Time { return time.Now().UTC() },
		NewID:           nuid.Next,
	}
}

// NewValidator returns a validator that reports json field names and knows
// the meeting_type and weekday tags.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("meeting_type", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, t := range MeetingTypes {
			if value == t {
				return true
			}
		}
		return false
	})
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		return len(calendar.ParseWeekdays(fl.Field().String())) == 1
	})
	return v
}

func (s *Service) validate(req any) error {
	err := s.Validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return &ValidationError{Fields: fields}
	}
	return err
}

func (s *Service) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *Service) localInstant(date, clock string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(date)+" "+strings.TrimSpace(clock), s.loc())
	if err != nil {
		return time.Time{}, &ValidationError{Fields: []string{"date", "time"}}
	}
	return t, nil
}

// assignee picks the team member a new row belongs to.
func (s *Service) assignee(ctx context.Context, actor Actor, requested string) (string, error) {
	if !actor.Admin {
		return actor.Name, nil
	}
	tm := strings.TrimSpace(requested)
	if tm == "" {
		return "", ErrTeamMemberRequired
	}
	return s.rosterName(ctx, tm)
}

// rosterName returns the roster spelling of name so colors and filters see
// one key per member.
func (s *Service) rosterName(ctx context.Context, name string) (string, error) {
	if s.Roster == nil {
		return name, nil
	}
	roster, err := s.Roster(ctx)
	if err != nil {
		return "", err
	}
	for _, member := range roster {
		if strings.EqualFold(strings.TrimSpace(member), name) {
			return member, nil
		}
	}
	return "", &ValidationError{Fields: []string{"team_member"}}
}

type CreateBookingRequest struct {
	Title           string `json:"title" validate:"required,max=256"`
	Summary         string `json:"summary" validate:"max=2000"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string `json:"time" validate:"required,datetime=15:04"`
	DurationMinutes int    `json:"duration" validate:"omitempty,min=1,max=1440"`
	TeamMember      string `json:"team_member" validate:"max=128"`
	CustomerName    string `json:"customer_name" validate:"max=256"`
	CustomerEmail   string `json:"customer_email" validate:"omitempty,email"`
	PhoneNumber     string `json:"phone_number" validate:"max=64"`
	MeetingLink     string `json:"meeting_link" validate:"omitempty,url"`
	PaymentStatus   string `json:"payment_status" validate:"max=64"`
	TypeOfMeeting   string `json:"type_of_meeting" validate:"omitempty,meeting_type"`
	Description     string `json:"description" validate:"max=4000"`
}

func (r *CreateBookingRequest) trim() {
	for _, f := range []*string{
		&r.Title, &r.Summary, &r.Date, &r.Time, &r.TeamMember, &r.CustomerName, &r.CustomerEmail,
		&r.PhoneNumber, &r.MeetingLink, &r.PaymentStatus, &r.TypeOfMeeting, &r.Description,
	} {
		*f = strings.TrimSpace(*f)
	}
}

// UpdateBookingRequest carries a partial update; nil fields are left alone.
type UpdateBookingRequest struct {
	Title           *string `json:"title" validate:"omitempty,min=1,max=256"`
	Summary         *string `json:"summary" validate:"omitempty,max=2000"`
	Date            *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time            *string `json:"time" validate:"omitempty,datetime=15:04"`
	DurationMinutes *int    `json:"duration" validate:"omitempty,min=1,max=1440"`
	TeamMember      *string `json:"team_member" validate:"omitempty,min=1,max=128"`
	CustomerName    *string `json:"customer_name" validate:"omitempty,max=256"`
	CustomerEmail   *string `json:"customer_email" validate:"omitempty,email"`
	PhoneNumber     *string `json:"phone_number" validate:"omitempty,max=64"`
	MeetingLink     *string `json:"meeting_link" validate:"omitempty,url"`
	PaymentStatus   *string `json:"payment_status" validate:"omitempty,max=64"`
	TypeOfMeeting   *string `json:"type_of_meeting" validate:"omitempty,meeting_type"`
	Description     *string `json:"description" validate:"omitempty,max=4000"`
}

type DeleteResponse struct {
	Status   string `json:"status"`
	Notified bool   `json:"notified"`
}

// ListBookings returns the live bookings visible to actor.
func (s *Service) ListBookings(ctx context.Context, actor Actor, teamMember string) ([]calendar.BookingRecord, error) {
	return s.Repo.ListBookings(ctx, actor.Scope(teamMember))
}

func (s *Service) CreateBooking(ctx context.Context, actor Actor, req CreateBookingRequest) (calendar.BookingRecord, error) {
	req.trim()
	if err := s.validate(req); err != nil {
		return calendar.BookingRecord{}, err
	}
	member, err := s.assignee(ctx, actor, req.TeamMember)
	if err != nil {
		return calendar.BookingRecord{}, err
	}
	start, err := s.localInstant(req.Date, req.Time)
	if err != nil {
		return calendar.BookingRecord{}, err
	}
	stored := start.UTC().Add(-s.BookingOffset)

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = s.DefaultDuration
	}
	if duration <= 0 {
		duration = calendar.DefaultDurationMinutes
	}
	active := true
	rec := calendar.BookingRecord{
		ID:              s.NewID(),
		Title:           req.Title,
		Summary:         req.Summary,
		BookingTime:     &stored,
		MeetingLink:     req.MeetingLink,
		TeamMember:      member,
		DurationMinutes: &duration,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		PhoneNumber:     req.PhoneNumber,
		PaymentStatus:   req.PaymentStatus,
		IsActive:        &active,
		TypeOfMeeting:   req.TypeOfMeeting,
		Description:     req.Description,
	}
	if err := s.Repo.CreateBooking(ctx, rec); err != nil {
		return calendar.BookingRecord{}, err
	}
	return rec, nil
}

func (s *Service) visibleBooking(ctx context.Context, actor Actor, bookingID string) (calendar.BookingRecord, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return calendar.BookingRecord{}, ErrNotFound
	}
	rec, err := s.Repo.GetBooking(ctx, bookingID)
	if err != nil {
		return calendar.BookingRecord{}, err
	}
	if !actor.Owns(rec.TeamMember) {
		return calendar.BookingRecord{}, ErrForbidden
	}
	return rec, nil
}

func (s *Service) UpdateBooking(ctx context.Context, actor Actor, bookingID string, req UpdateBookingRequest) (calendar.BookingRecord, error) {
	if err := s.validate(req); err != nil {
		return calendar.BookingRecord{}, err
	}
	rec, err := s.visibleBooking(ctx, actor, bookingID)
	if err != nil {
		return calendar.BookingRecord{}, err
	}

	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&rec.Title, req.Title)
	set(&rec.Summary, req.Summary)
	set(&rec.CustomerName, req.CustomerName)
	set(&rec.CustomerEmail, req.CustomerEmail)
	set(&rec.PhoneNumber, req.PhoneNumber)
	set(&rec.MeetingLink, req.MeetingLink)
	set(&rec.PaymentStatus, req.PaymentStatus)
	set(&rec.TypeOfMeeting, req.TypeOfMeeting)
	set(&rec.Description, req.Description)
	if req.TeamMember != nil {
		if !actor.Admin {
			return calendar.BookingRecord{}, ErrForbidden
		}
		member, err := s.rosterName(ctx, strings.TrimSpace(*req.TeamMember))
		if err != nil {
			return calendar.BookingRecord{}, err
		}
		rec.TeamMember = member
	}
	if req.DurationMinutes != nil {
		d := *req.DurationMinutes
		rec.DurationMinutes = &d
	}

	if req.Date != nil || req.Time != nil {
		var date, clock string
		if rec.BookingTime != nil {
			local := rec.BookingTime.Add(s.BookingOffset).In(s.loc())
			date, clock = local.Format("2006-01-02"), local.Format("15:04")
		}
		if req.Date != nil {
			date = *req.Date
		}
		if req.Time != nil {
			clock = *req.Time
		}
		start, err := s.localInstant(date, clock)
		if err != nil {
			return calendar.BookingRecord{}, err
		}
		stored := start.UTC().Add(-s.BookingOffset)
		rec.BookingTime = &stored
	}

	if err := s.Repo.UpdateBooking(ctx, rec); err != nil {
		return calendar.BookingRecord{}, err
	}
	return rec, nil
}

// DeleteBooking deactivates a booking. With notify set, a BookingDeleted
// message is queued for the notifier after the row is deactivated.
func (s *Service) DeleteBooking(ctx context.Context, actor Actor, bookingID string, notify bool) (DeleteResponse, error) {
	rec, err := s.visibleBooking(ctx, actor, bookingID)
	if err != nil {
		return DeleteResponse{}, err
	}
	if err := s.Repo.DeactivateBooking(ctx, rec.ID); err != nil {
		return DeleteResponse{}, err
	}

	resp := DeleteResponse{Status: "success"}
	if notify && s.Publish != nil {
		if err := s.publishDeleted(actor, rec); err != nil {
			deletedTotal.Inc("false")
			return resp, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
		}
		resp.Notified = true
	}
	deletedTotal.Inc(strconv.FormatBool(resp.Notified))
	return resp, nil
}

func (s *Service) publishDeleted(actor Actor, rec calendar.BookingRecord) error {
	msg := contracts.BookingDeleted{
		NotificationID:   s.NewID(),
		BookingID:        rec.ID,
		Title:            rec.Title,
		TeamMember:       rec.TeamMember,
		CustomerName:     rec.CustomerName,
		CustomerEmail:    rec.CustomerEmail,
		PhoneNumber:      rec.PhoneNumber,
		BookingTime:      rec.BookingTime,
		MeetingLink:      rec.MeetingLink,
		SendNotification: true,
		ActorName:        actor.Name,
		DeletedAt:        s.Now(),
		ShardID:          sharding.GetShardID(rec.ID),
	}
	if rec.DurationMinutes != nil {
		msg.DurationMinutes = *rec.DurationMinutes
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.Publish(sharding.GetSubject("deleted", rec.ID), payload)
}

type CreateRecurringTaskRequest struct {
	Title        string   `json:"title" validate:"required,max=256"`
	Date         string   `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime    string   `json:"start_time" validate:"required,datetime=15:04"`
	EndTime      string   `json:"end_time" validate:"required,datetime=15:04"`
	SelectedDays []string `json:"selected_days" validate:"max=7,dive,weekday"`
	TeamMember   string   `json:"team_member" validate:"max=128"`
}

func (s *Service) ListRecurringTasks(ctx context.Context, actor Actor, teamMember string) ([]calendar.RecurringTaskRecord, error) {
	return s.Repo.ListRecurringTasks(ctx, actor.Scope(teamMember))
}

// CreateRecurringTask reads date and times in the display timezone and stores
// them as UTC wall-clock. Selected weekdays shift with the date when the
// conversion moves the task to a neighbouring UTC day.
func (s *Service) CreateRecurringTask(ctx context.Context, actor Actor, req CreateRecurringTaskRequest) (calendar.RecurringTaskRecord, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Date = strings.TrimSpace(req.Date)
	req.StartTime = strings.TrimSpace(req.StartTime)
	req.EndTime = strings.TrimSpace(req.EndTime)
	if err := s.validate(req); err != nil {
		return calendar.RecurringTaskRecord{}, err
	}
	member, err := s.assignee(ctx, actor, req.TeamMember)
	if err != nil {
		return calendar.RecurringTaskRecord{}, err
	}
	start, err := s.localInstant(req.Date, req.StartTime)
	if err != nil {
		return calendar.RecurringTaskRecord{}, err
	}
	end, err := s.localInstant(req.Date, req.EndTime)
	if err != nil {
		return calendar.RecurringTaskRecord{}, err
	}
	if !end.After(start) {
		return calendar.RecurringTaskRecord{}, ErrInvalidTimeRange
	}
	startUTC, endUTC := start.UTC(), end.UTC()
	if calendar.DateOf(startUTC, time.UTC) != calendar.DateOf(endUTC, time.UTC) {
		return calendar.RecurringTaskRecord{}, ErrSpansUTCMidnight
	}

	localDate := calendar.DateOf(start, s.loc())
	storedDate := calendar.DateOf(startUTC, time.UTC)
	shift := localDate.DaysUntil(storedDate)
	days := calendar.ParseWeekdays(strings.Join(req.SelectedDays, ","))
	for i, d := range days {
		days[i] = time.Weekday((int(d) + shift + 7) % 7)
	}

	rec := calendar.RecurringTaskRecord{
		ID:           s.NewID(),
		TeamMember:   member,
		Title:        req.Title,
		Date:         storedDate.String(),
		StartTime:    startUTC.Format("15:04:05"),
		EndTime:      endUTC.Format("15:04:05"),
		SelectedDays: strings.Join(calendar.WeekdayNames(days), ","),
	}
	if err := s.Repo.CreateRecurringTask(ctx, rec); err != nil {
		return calendar.RecurringTaskRecord{}, err
	}
	return rec, nil
}

func (s *Service) DeleteRecurringTask(ctx context.Context, actor Actor, taskID string) error {
	taskID = baseTaskID(taskID)
	if taskID == "" {
		return ErrNotFound
	}
	rec, err := s.Repo.GetRecurringTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !actor.Owns(rec.TeamMember) {
		return ErrForbidden
	}
	return s.Repo.DeleteRecurringTask(ctx, taskID)
}

// baseTaskID accepts a stored task id or any event id derived from it:
// recurring-{id} and recurring-{id}-{YYYYMMDD}.
func baseTaskID(raw string) string {
	id := strings.TrimSpace(raw)
	if !strings.HasPrefix(id, calendar.RecurringIDPrefix) {
		return id
	}
	id = strings.TrimPrefix(id, calendar.RecurringIDPrefix)
	if idx := strings.LastIndex(id, "-"); idx > 0 && len(id)-idx-1 == 8 {
		if _, err := strconv.Atoi(id[idx+1:]); err == nil {
			id = id[:idx]
		}
	}
	return id
}

// Snapshot loads every row visible to actor for the given filter.
func (s *Service) Snapshot(ctx context.Context, actor Actor, teamMember string) ([]calendar.BookingRecord, []calendar.RecurringTaskRecord, error) {
	bookings, err := s.ListBookings(ctx, actor, teamMember)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := s.ListRecurringTasks(ctx, actor, teamMember)
	if err != nil {
		return nil, nil, err
	}
	return bookings, tasks, nil
}
