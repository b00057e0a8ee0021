package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bookingcal/project/internal/calendar"
	"github.com/bookingcal/project/internal/contracts"
)

var ist = time.FixedZone("IST", 5*3600+1800)

type fakeRepo struct {
	bookings map[string]calendar.BookingRecord
	tasks    map[string]calendar.RecurringTaskRecord

	listErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		bookings: map[string]calendar.BookingRecord{},
		tasks:    map[string]calendar.RecurringTaskRecord{},
	}
}

func (f *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

func matches(filter, teamMember string) bool {
	return filter == "" || strings.EqualFold(filter, teamMember)
}

func (f *fakeRepo) ListBookings(ctx context.Context, teamMember string) ([]calendar.BookingRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []calendar.BookingRecord{}
	for _, b := range f.bookings {
		if b.Live() && matches(teamMember, b.TeamMember) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetBooking(ctx context.Context, bookingID string) (calendar.BookingRecord, error) {
	b, ok := f.bookings[bookingID]
	if !ok || !b.Live() {
		return calendar.BookingRecord{}, ErrNotFound
	}
	return b, nil
}

func (f *fakeRepo) CreateBooking(ctx context.Context, rec calendar.BookingRecord) error {
	f.bookings[rec.ID] = rec
	return nil
}

func (f *fakeRepo) UpdateBooking(ctx context.Context, rec calendar.BookingRecord) error {
	if _, ok := f.bookings[rec.ID]; !ok {
		return ErrNotFound
	}
	f.bookings[rec.ID] = rec
	return nil
}

func (f *fakeRepo) DeactivateBooking(ctx context.Context, bookingID string) error {
	b, ok := f.bookings[bookingID]
	if !ok {
		return ErrNotFound
	}
	inactive := false
	b.IsActive = &inactive
	f.bookings[bookingID] = b
	return nil
}

func (f *fakeRepo) ListRecurringTasks(ctx context.Context, teamMember string) ([]calendar.RecurringTaskRecord, error) {
	out := []calendar.RecurringTaskRecord{}
	for _, t := range f.tasks {
		if matches(teamMember, t.TeamMember) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetRecurringTask(ctx context.Context, taskID string) (calendar.RecurringTaskRecord, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return calendar.RecurringTaskRecord{}, ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) CreateRecurringTask(ctx context.Context, rec calendar.RecurringTaskRecord) error {
	f.tasks[rec.ID] = rec
	return nil
}

func (f *fakeRepo) DeleteRecurringTask(ctx context.Context, taskID string) error {
	if _, ok := f.tasks[taskID]; !ok {
		return ErrNotFound
	}
	delete(f.tasks, taskID)
	return nil
}

type published struct {
	subject string
	payload []byte
}

func newTestService(repo *fakeRepo) (*Service, *[]published) {
	var sent []published
	svc := NewService(repo, ist, func(subject string, payload []byte) error {
		sent = append(sent, published{subject: subject, payload: append([]byte(nil), payload...)})
		return nil
	})
	seq := 0
	svc.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	svc.Now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	svc.Roster = func(context.Context) ([]string, error) { return teamRoster, nil }
	return svc, &sent
}

var teamRoster = []string{"Gauri", "Monica", "Shafoli"}

var (
	admin  = Actor{Name: "admin", Admin: true}
	gauri  = Actor{Name: "Gauri"}
	monica = Actor{Name: "Monica"}
)

func TestCreateBookingAsMemberUsesOwnName(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	rec, err := svc.CreateBooking(context.Background(), gauri, CreateBookingRequest{
		Title:         " Consultation ",
		Date:          "2025-03-10",
		Time:          "10:00",
		TeamMember:    "Monica",
		TypeOfMeeting: "In Person",
	})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	if rec.TeamMember != "Gauri" || rec.Title != "Consultation" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	want := time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC)
	if rec.BookingTime == nil || !rec.BookingTime.Equal(want) {
		t.Fatalf("expected booking time %s, got %v", want, rec.BookingTime)
	}
	if rec.DurationMinutes == nil || *rec.DurationMinutes != 60 {
		t.Fatalf("expected default duration 60, got %v", rec.DurationMinutes)
	}
	if _, ok := repo.bookings[rec.ID]; !ok {
		t.Fatalf("expected booking to be stored")
	}
}

func TestCreateBookingAppliesOffsetInverse(t *testing.T) {
	svc, _ := newTestService(newFakeRepo())
	svc.BookingOffset = 330 * time.Minute

	rec, err := svc.CreateBooking(context.Background(), gauri, CreateBookingRequest{Title: "x", Date: "2025-03-10", Time: "10:00"})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	e := calendar.Normalizer{Location: ist, BookingOffset: svc.BookingOffset}.Booking(rec)
	if got := e.Start.In(ist).Format("2006-01-02 15:04"); got != "2025-03-10 10:00" {
		t.Fatalf("expected round trip to local 10:00, got %s", got)
	}
}

func TestCreateBookingAdminNeedsTeamMember(t *testing.T) {
	svc, _ := newTestService(newFakeRepo())
	_, err := svc.CreateBooking(context.Background(), admin, CreateBookingRequest{Title: "x", Date: "2025-03-10", Time: "10:00"})
	if !errors.Is(err, ErrTeamMemberRequired) {
		t.Fatalf("expected ErrTeamMemberRequired, got %v", err)
	}
	rec, err := svc.CreateBooking(context.Background(), admin, CreateBookingRequest{Title: "x", Date: "2025-03-10", Time: "10:00", TeamMember: "Shafoli"})
	if err != nil || rec.TeamMember != "Shafoli" {
		t.Fatalf("expected admin to assign Shafoli, got %+v err=%v", rec, err)
	}
}

func TestAdminAssignmentUsesRosterSpelling(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	rec, err := svc.CreateBooking(ctx, admin, CreateBookingRequest{Title: "x", Date: "2025-03-10", Time: "10:00", TeamMember: " monica "})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	if rec.TeamMember != "Monica" {
		t.Fatalf("expected roster spelling Monica, got %q", rec.TeamMember)
	}
	e := calendar.Normalizer{Location: ist}.Booking(rec)
	if got, want := calendar.ResolveColor(e, teamRoster), calendar.ResolveColor(calendar.Event{TeamMember: "Monica"}, teamRoster); got != want {
		t.Fatalf("expected member color %s, got %s", want, got)
	}

	task, err := svc.CreateRecurringTask(ctx, admin, CreateRecurringTaskRequest{Title: "Standup", Date: "2025-03-10", StartTime: "10:00", EndTime: "11:00", TeamMember: "SHAFOLI"})
	if err != nil || task.TeamMember != "Shafoli" {
		t.Fatalf("expected recurring task for Shafoli, got %+v err=%v", task, err)
	}

	var verr *ValidationError
	_, err = svc.CreateBooking(ctx, admin, CreateBookingRequest{Title: "x", Date: "2025-03-10", Time: "10:00", TeamMember: "Nobody"})
	if !errors.As(err, &verr) || verr.Fields[0] != "team_member" {
		t.Fatalf("expected team_member validation error, got %v", err)
	}

	lower := "gauri"
	updated, err := svc.UpdateBooking(ctx, admin, rec.ID, UpdateBookingRequest{TeamMember: &lower})
	if err != nil || updated.TeamMember != "Gauri" {
		t.Fatalf("expected reassignment to Gauri, got %+v err=%v", updated, err)
	}
	unknown := "Priya"
	if _, err := svc.UpdateBooking(ctx, admin, rec.ID, UpdateBookingRequest{TeamMember: &unknown}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown member, got %v", err)
	}
	if repo.bookings[rec.ID].TeamMember != "Gauri" {
		t.Fatalf("rejected update must not change the stored member")
	}
}

func TestCreateBookingValidation(t *testing.T) {
	svc, _ := newTestService(newFakeRepo())
	tests := []struct {
		name  string
		req   CreateBookingRequest
		field string
	}{
		{"missing title", CreateBookingRequest{Title: "  ", Date: "2025-03-10", Time: "10:00"}, "title"},
		{"bad date", CreateBookingRequest{Title: "x", Date: "10/03/2025", Time: "10:00"}, "date"},
		{"bad time", CreateBookingRequest{Title: "x", Date: "2025-03-10", Time: "25:00"}, "time"},
		{"bad email", CreateBookingRequest{Title: "x", Date: "2025-03-10", Time: "10:00", CustomerEmail: "nope"}, "customer_email"},
		{"bad meeting type", CreateBookingRequest{Title: "x", Date: "2025-03-10", Time: "10:00", TypeOfMeeting: "Carrier pigeon"}, "type_of_meeting"},
		{"bad duration", CreateBookingRequest{Title: "x", Date: "2025-03-10", Time: "10:00", DurationMinutes: -5}, "duration"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateBooking(context.Background(), gauri, tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !reflect.DeepEqual(verr.Fields, []string{tc.field}) {
				t.Fatalf("expected field %q, got %v", tc.field, verr.Fields)
			}
		})
	}
}

func seedBooking(repo *fakeRepo, id, member string, at time.Time) {
	active := true
	duration := 30
	repo.bookings[id] = calendar.BookingRecord{
		ID: id, Title: "Session " + id, TeamMember: member, BookingTime: &at,
		DurationMinutes: &duration, IsActive: &active, CustomerName: "Asha", CustomerEmail: "asha@example.com",
	}
}

func TestListBookingsVisibility(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	at := time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC)
	seedBooking(repo, "b-1", "Gauri", at)
	seedBooking(repo, "b-2", "monica", at)
	seedBooking(repo, "b-3", "Shafoli", at)

	got, err := svc.ListBookings(context.Background(), monica, "Gauri")
	if err != nil {
		t.Fatalf("ListBookings error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b-2" {
		t.Fatalf("expected member filter to be ignored, got %+v", got)
	}

	all, err := svc.ListBookings(context.Background(), admin, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("expected admin to see 3 bookings, got %d err=%v", len(all), err)
	}
	filtered, err := svc.ListBookings(context.Background(), admin, "shafoli")
	if err != nil || len(filtered) != 1 || filtered[0].ID != "b-3" {
		t.Fatalf("expected admin filter to apply, got %+v err=%v", filtered, err)
	}
}

func TestUpdateBookingPartial(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	seedBooking(repo, "b-1", "Gauri", time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC))

	newTime := "15:15"
	title := "Follow-up"
	rec, err := svc.UpdateBooking(context.Background(), gauri, "b-1", UpdateBookingRequest{Time: &newTime, Title: &title})
	if err != nil {
		t.Fatalf("UpdateBooking error: %v", err)
	}
	if rec.Title != "Follow-up" || rec.CustomerName != "Asha" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if got := rec.BookingTime.In(ist).Format("2006-01-02 15:04"); got != "2025-03-10 15:15" {
		t.Fatalf("expected date kept and time moved, got %s", got)
	}

	if _, err := svc.UpdateBooking(context.Background(), monica, "b-1", UpdateBookingRequest{Title: &title}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for other member, got %v", err)
	}
	other := "Monica"
	if _, err := svc.UpdateBooking(context.Background(), gauri, "b-1", UpdateBookingRequest{TeamMember: &other}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected member reassignment to be forbidden, got %v", err)
	}
	if _, err := svc.UpdateBooking(context.Background(), admin, "b-1", UpdateBookingRequest{TeamMember: &other}); err != nil {
		t.Fatalf("expected admin reassignment, got %v", err)
	}
	if _, err := svc.UpdateBooking(context.Background(), admin, "missing", UpdateBookingRequest{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteBookingPublishesNotification(t *testing.T) {
	repo := newFakeRepo()
	svc, sent := newTestService(repo)
	seedBooking(repo, "b-1", "Gauri", time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC))

	resp, err := svc.DeleteBooking(context.Background(), gauri, "b-1", true)
	if err != nil {
		t.Fatalf("DeleteBooking error: %v", err)
	}
	if resp.Status != "success" || !resp.Notified {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if repo.bookings["b-1"].Live() {
		t.Fatalf("expected booking to be deactivated")
	}
	if len(*sent) != 1 {
		t.Fatalf("expected one published message, got %d", len(*sent))
	}
	msg := (*sent)[0]
	if msg.subject != "cal.booking.9.deleted.b-1" {
		t.Fatalf("unexpected subject %q", msg.subject)
	}
	var evt contracts.BookingDeleted
	if err := json.Unmarshal(msg.payload, &evt); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if evt.BookingID != "b-1" || !evt.SendNotification || evt.ShardID != 9 || evt.DurationMinutes != 30 || evt.ActorName != "Gauri" {
		t.Fatalf("unexpected payload: %+v", evt)
	}

	if _, err := svc.DeleteBooking(context.Background(), gauri, "b-1", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to miss, got %v", err)
	}
}

func TestDeleteBookingWithoutNotify(t *testing.T) {
	repo := newFakeRepo()
	svc, sent := newTestService(repo)
	seedBooking(repo, "b-2", "Monica", time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC))

	if _, err := svc.DeleteBooking(context.Background(), gauri, "b-2", false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	resp, err := svc.DeleteBooking(context.Background(), admin, "b-2", false)
	if err != nil || resp.Notified || len(*sent) != 0 {
		t.Fatalf("expected silent delete, got %+v err=%v sent=%d", resp, err, len(*sent))
	}
}

func TestDeleteBookingPublishFailure(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	svc.Publish = func(string, []byte) error { return errors.New("nats down") }
	seedBooking(repo, "b-1", "Gauri", time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC))

	resp, err := svc.DeleteBooking(context.Background(), gauri, "b-1", true)
	if !errors.Is(err, ErrNotificationFailed) {
		t.Fatalf("expected ErrNotificationFailed, got %v", err)
	}
	if resp.Status != "success" || resp.Notified || repo.bookings["b-1"].Live() {
		t.Fatalf("expected booking deactivated without notification, got %+v", resp)
	}
}

func TestCreateRecurringTaskStoresUTCWallClock(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	rec, err := svc.CreateRecurringTask(context.Background(), gauri, CreateRecurringTaskRequest{
		Title: "Standup", Date: "2025-03-10", StartTime: "10:00", EndTime: "10:30",
		SelectedDays: []string{"monday", "Wed"},
	})
	if err != nil {
		t.Fatalf("CreateRecurringTask error: %v", err)
	}
	want := calendar.RecurringTaskRecord{
		ID: rec.ID, TeamMember: "Gauri", Title: "Standup", Date: "2025-03-10",
		StartTime: "04:30:00", EndTime: "05:00:00", SelectedDays: "Monday,Wednesday",
	}
	if rec != want {
		t.Fatalf("unexpected record:\n got %+v\nwant %+v", rec, want)
	}

	e := calendar.NewNormalizer(ist).RecurringTask(rec)
	if got := e.Start.In(ist).Format("2006-01-02 15:04"); got != "2025-03-10 10:00" || e.DurationMinutes != 30 {
		t.Fatalf("expected local 10:00 for 30 minutes, got %s/%d", got, e.DurationMinutes)
	}
}

func TestCreateRecurringTaskShiftsWeekdaysAcrossUTCDate(t *testing.T) {
	svc, _ := newTestService(newFakeRepo())
	rec, err := svc.CreateRecurringTask(context.Background(), gauri, CreateRecurringTaskRequest{
		Title: "Early call", Date: "2025-03-10", StartTime: "05:00", EndTime: "05:15",
		SelectedDays: []string{"Monday"},
	})
	if err != nil {
		t.Fatalf("CreateRecurringTask error: %v", err)
	}
	if rec.Date != "2025-03-09" || rec.StartTime != "23:30:00" || rec.SelectedDays != "Sunday" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	from, _ := calendar.ParseDate("2025-03-10")
	to, _ := calendar.ParseDate("2025-03-23")
	events := calendar.NewNormalizer(ist).RecurringTaskOccurrences(rec, from, to)
	for _, e := range events {
		if e.Date.Weekday() != time.Monday {
			t.Fatalf("expected local Monday occurrences, got %s on %s", e.ID, e.Date)
		}
	}
}

func TestCreateRecurringTaskErrors(t *testing.T) {
	svc, _ := newTestService(newFakeRepo())
	ctx := context.Background()

	if _, err := svc.CreateRecurringTask(ctx, gauri, CreateRecurringTaskRequest{Title: "x", Date: "2025-03-10", StartTime: "11:00", EndTime: "10:00"}); !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}
	if _, err := svc.CreateRecurringTask(ctx, gauri, CreateRecurringTaskRequest{Title: "x", Date: "2025-03-10", StartTime: "05:00", EndTime: "06:00"}); !errors.Is(err, ErrSpansUTCMidnight) {
		t.Fatalf("expected ErrSpansUTCMidnight, got %v", err)
	}
	_, err := svc.CreateRecurringTask(ctx, gauri, CreateRecurringTaskRequest{Title: "x", Date: "2025-03-10", StartTime: "10:00", EndTime: "11:00", SelectedDays: []string{"Funday"}})
	var verr *ValidationError
	if !errors.As(err, &verr) || !strings.Contains(verr.Error(), "selected_days") {
		t.Fatalf("expected selected_days validation error, got %v", err)
	}
	if _, err := svc.CreateRecurringTask(ctx, admin, CreateRecurringTaskRequest{Title: "x", Date: "2025-03-10", StartTime: "10:00", EndTime: "11:00"}); !errors.Is(err, ErrTeamMemberRequired) {
		t.Fatalf("expected ErrTeamMemberRequired, got %v", err)
	}
}

func TestDeleteRecurringTaskAcceptsOccurrenceID(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	repo.tasks["t1"] = calendar.RecurringTaskRecord{ID: "t1", TeamMember: "Gauri", Title: "Standup", Date: "2025-03-10"}
	repo.tasks["t2"] = calendar.RecurringTaskRecord{ID: "t2", TeamMember: "Gauri", Title: "Review", Date: "2025-03-10"}

	if err := svc.DeleteRecurringTask(context.Background(), monica, "t1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := svc.DeleteRecurringTask(context.Background(), gauri, "recurring-t1-20250317"); err != nil {
		t.Fatalf("DeleteRecurringTask error: %v", err)
	}
	if err := svc.DeleteRecurringTask(context.Background(), gauri, "recurring-t2"); err != nil {
		t.Fatalf("DeleteRecurringTask error: %v", err)
	}
	if len(repo.tasks) != 0 {
		t.Fatalf("expected tasks to be removed, got %v", repo.tasks)
	}
}

func TestSnapshotPropagatesErrors(t *testing.T) {
	repo := newFakeRepo()
	repo.listErr = errors.New("db down")
	svc, _ := newTestService(repo)
	if _, _, err := svc.Snapshot(context.Background(), admin, ""); err == nil {
		t.Fatalf("expected error")
	}
}
