package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bookingcal/project/internal/calendar"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// Repository is the booking store. An empty teamMember lists every row;
// otherwise rows are matched case-insensitively.
type Repository interface {
	EnsureSchema(ctx context.Context) error

	ListBookings(ctx context.Context, teamMember string) ([]calendar.BookingRecord, error)
	GetBooking(ctx context.Context, bookingID string) (calendar.BookingRecord, error)
	CreateBooking(ctx context.Context, rec calendar.BookingRecord) error
	UpdateBooking(ctx context.Context, rec calendar.BookingRecord) error
	DeactivateBooking(ctx context.Context, bookingID string) error

	ListRecurringTasks(ctx context.Context, teamMember string) ([]calendar.RecurringTaskRecord, error)
	GetRecurringTask(ctx context.Context, taskID string) (calendar.RecurringTaskRecord, error)
	CreateRecurringTask(ctx context.Context, rec calendar.RecurringTaskRecord) error
	DeleteRecurringTask(ctx context.Context, taskID string) error
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createBookingsSQL = `
CREATE TABLE IF NOT EXISTS bookings (
  id text PRIMARY KEY,
  title text NOT NULL DEFAULT '',
  summary text NOT NULL DEFAULT '',
  booking_time timestamptz,
  meeting_link text NOT NULL DEFAULT '',
  team_member text NOT NULL DEFAULT '',
  duration integer,
  customer_name text NOT NULL DEFAULT '',
  customer_email text NOT NULL DEFAULT '',
  phone_number text NOT NULL DEFAULT '',
  payment_status text NOT NULL DEFAULT '',
  is_active boolean DEFAULT true,
  type_of_meeting text NOT NULL DEFAULT '',
  description text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createBookingsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_bookings_team_member_time
ON bookings (lower(team_member), booking_time)`

const createRecurringTasksSQL = `
CREATE TABLE IF NOT EXISTS recurring_tasks (
  id text PRIMARY KEY,
  team_member text NOT NULL DEFAULT '',
  title text NOT NULL DEFAULT '',
  date text NOT NULL DEFAULT '',
  start_time text NOT NULL DEFAULT '',
  end_time text NOT NULL DEFAULT '',
  selected_days text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now()
)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createBookingsSQL, createBookingsIndexSQL, createRecurringTasksSQL} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const selectBookingSQL = `SELECT id, title, summary, booking_time, meeting_link, team_member, duration,
        customer_name, customer_email, phone_number, payment_status, is_active,
        type_of_meeting, description
 FROM bookings`

func scanBooking(row pgx.Row) (calendar.BookingRecord, error) {
	var b calendar.BookingRecord
	var duration *int32
	err := row.Scan(
		&b.ID,
		&b.Title,
		&b.Summary,
		&b.BookingTime,
		&b.MeetingLink,
		&b.TeamMember,
		&duration,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.PhoneNumber,
		&b.PaymentStatus,
		&b.IsActive,
		&b.TypeOfMeeting,
		&b.Description,
	)
	if err != nil {
		return calendar.BookingRecord{}, err
	}
	if duration != nil {
		d := int(*duration)
		b.DurationMinutes = &d
	}
	return b, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

func (r *PostgresRepository) ListBookings(ctx context.Context, teamMember string) ([]calendar.BookingRecord, error) {
	query := selectBookingSQL + ` WHERE COALESCE(is_active, true)`
	args := []any{}
	if tm := strings.TrimSpace(teamMember); tm != "" {
		query += ` AND lower(team_member) = lower($1)`
		args = append(args, tm)
	}
	query += ` ORDER BY booking_time NULLS LAST, id`

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		if isUndefinedTable(err) {
			// Store not provisioned yet.
			return []calendar.BookingRecord{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	result := make([]calendar.BookingRecord, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetBooking(ctx context.Context, bookingID string) (calendar.BookingRecord, error) {
	b, err := scanBooking(r.Pool.QueryRow(ctx, selectBookingSQL+` WHERE id = $1`, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUndefinedTable(err) {
			return calendar.BookingRecord{}, ErrNotFound
		}
		return calendar.BookingRecord{}, err
	}
	if !b.Live() {
		return calendar.BookingRecord{}, ErrNotFound
	}
	return b, nil
}

func durationParam(d *int) any {
	if d == nil {
		return nil
	}
	return int32(*d)
}

func (r *PostgresRepository) CreateBooking(ctx context.Context, rec calendar.BookingRecord) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO bookings (
		   id, title, summary, booking_time, meeting_link, team_member, duration,
		   customer_name, customer_email, phone_number, payment_status, is_active,
		   type_of_meeting, description
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true, $12, $13)`,
		rec.ID, rec.Title, rec.Summary, rec.BookingTime, rec.MeetingLink, rec.TeamMember, durationParam(rec.DurationMinutes),
		rec.CustomerName, rec.CustomerEmail, rec.PhoneNumber, rec.PaymentStatus,
		rec.TypeOfMeeting, rec.Description,
	)
	return err
}

func (r *PostgresRepository) UpdateBooking(ctx context.Context, rec calendar.BookingRecord) error {
	tag, err := r.Pool.Exec(ctx,
		`UPDATE bookings
		 SET title = $2, summary = $3, booking_time = $4, meeting_link = $5, team_member = $6,
		     duration = $7, customer_name = $8, customer_email = $9, phone_number = $10,
		     payment_status = $11, type_of_meeting = $12, description = $13, updated_at = now()
		 WHERE id = $1 AND COALESCE(is_active, true)`,
		rec.ID, rec.Title, rec.Summary, rec.BookingTime, rec.MeetingLink, rec.TeamMember,
		durationParam(rec.DurationMinutes), rec.CustomerName, rec.CustomerEmail, rec.PhoneNumber,
		rec.PaymentStatus, rec.TypeOfMeeting, rec.Description,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeactivateBooking(ctx context.Context, bookingID string) error {
	tag, err := r.Pool.Exec(ctx,
		`UPDATE bookings SET is_active = false, updated_at = $2 WHERE id = $1 AND COALESCE(is_active, true)`,
		bookingID, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectRecurringTaskSQL = `SELECT id, team_member, title, date, start_time, end_time, selected_days FROM recurring_tasks`

func scanRecurringTask(row pgx.Row) (calendar.RecurringTaskRecord, error) {
	var t calendar.RecurringTaskRecord
	err := row.Scan(&t.ID, &t.TeamMember, &t.Title, &t.Date, &t.StartTime, &t.EndTime, &t.SelectedDays)
	return t, err
}

func (r *PostgresRepository) ListRecurringTasks(ctx context.Context, teamMember string) ([]calendar.RecurringTaskRecord, error) {
	query := selectRecurringTaskSQL
	args := []any{}
	if tm := strings.TrimSpace(teamMember); tm != "" {
		query += ` WHERE lower(team_member) = lower($1)`
		args = append(args, tm)
	}
	query += ` ORDER BY date, start_time, id`

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return []calendar.RecurringTaskRecord{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	result := make([]calendar.RecurringTaskRecord, 0)
	for rows.Next() {
		t, err := scanRecurringTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetRecurringTask(ctx context.Context, taskID string) (calendar.RecurringTaskRecord, error) {
	t, err := scanRecurringTask(r.Pool.QueryRow(ctx, selectRecurringTaskSQL+` WHERE id = $1`, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUndefinedTable(err) {
			return calendar.RecurringTaskRecord{}, ErrNotFound
		}
		return calendar.RecurringTaskRecord{}, err
	}
	return t, nil
}

func (r *PostgresRepository) CreateRecurringTask(ctx context.Context, rec calendar.RecurringTaskRecord) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO recurring_tasks (id, team_member, title, date, start_time, end_time, selected_days)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.TeamMember, rec.Title, rec.Date, rec.StartTime, rec.EndTime, rec.SelectedDays,
	)
	return err
}

func (r *PostgresRepository) DeleteRecurringTask(ctx context.Context, taskID string) error {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM recurring_tasks WHERE id = $1`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
