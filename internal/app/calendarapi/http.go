package calendarapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/bookingcal/project/internal/app/booking"
	"github.com/bookingcal/project/internal/app/identity"
	"github.com/bookingcal/project/internal/calendar"
	platformauth "github.com/bookingcal/project/internal/platform/auth"
	"github.com/bookingcal/project/internal/platform/metrics"
	"github.com/bookingcal/project/services/frontend"
	"github.com/go-chi/chi/v5"
)

var httpRequests = metrics.NewCounterVec("calendar_http_requests_total",
	"HTTP requests by route pattern and status code.", "route", "status")

type Handler struct {
	Calendar      *Service
	Bookings      *booking.Service
	Identity      *identity.Service
	AllowedOrigin string
}

func NewHandler(calendarSvc *Service, bookingSvc *booking.Service, identitySvc *identity.Service, allowedOrigin string) *Handler {
	return &Handler{
		Calendar:      calendarSvc,
		Bookings:      bookingSvc,
		Identity:      identitySvc,
		AllowedOrigin: allowedOrigin,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.metricsMiddleware)
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	r.Handle("/login", templ.Handler(frontend.LoginPage()))
	r.Handle("/static/*", http.StripPrefix("/static/", frontend.StaticHandler()))

	r.Post("/api/v1/auth/login", h.handleLogin)
	r.Post("/api/v1/auth/refresh", h.handleRefresh)
	r.Post("/api/v1/auth/logout", h.handleLogout)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)
		authR.Get("/api/v1/auth/me", h.handleMe)
		authR.Get("/api/v1/team-members", h.handleListTeam)
		authR.Post("/api/v1/team-members", h.handleAddMember)

		authR.Get("/api/v1/bookings", h.handleListBookings)
		authR.Post("/api/v1/bookings", h.handleCreateBooking)
		authR.Patch("/api/v1/bookings/{bookingID}", h.handleUpdateBooking)
		authR.Delete("/api/v1/bookings/{bookingID}", h.handleDeleteBooking)

		authR.Get("/api/v1/recurring-tasks", h.handleListRecurringTasks)
		authR.Post("/api/v1/recurring-tasks", h.handleCreateRecurringTask)
		authR.Delete("/api/v1/recurring-tasks/{taskID}", h.handleDeleteRecurringTask)

		authR.Get("/api/v1/calendar/day", h.handleDay)
		authR.Get("/api/v1/calendar/week", h.handleWeek)
		authR.Get("/api/v1/calendar/month", h.handleMonth)
		authR.Get("/api/v1/calendar/upcoming", h.handleUpcoming)
		authR.Get("/api/v1/calendar.ics", h.handleICS)
	})

	r.Group(func(uiR chi.Router) {
		uiR.Use(h.uiAuthMiddleware)
		uiR.Get("/ui/day", h.handleDayPage)
		uiR.Get("/ui/week", h.handleWeekPage)
		uiR.Get("/ui/month", h.handleMonthPage)
		uiR.Get("/ui/upcoming", h.handleUpcomingPage)
	})

	return r
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type addMemberRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.Identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.Identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrRefreshTokenMissing):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrInvalidRefreshToken):
			h.writeError(w, http.StatusUnauthorized, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Identity.Logout(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, identity.ErrRefreshTokenMissing) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  claims.Subject,
		"username": claims.Username,
		"role":     claims.Role,
		"is_admin": claims.IsAdmin(),
	})
}

func (h *Handler) handleListTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.Calendar.TeamColors(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, team)
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	member, err := h.Identity.AddMember(r.Context(), claimsFromContext(r.Context()), req.Name, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrForbiddenRole):
			h.writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, identity.ErrInvalidUsername), errors.Is(err, identity.ErrInvalidPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrDuplicateUser):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, member)
}

func actorFromRequest(r *http.Request) booking.Actor {
	return booking.ActorFromClaims(claimsFromContext(r.Context()))
}

func (h *Handler) handleListBookings(w http.ResponseWriter, r *http.Request) {
	records, err := h.Bookings.ListBookings(r.Context(), actorFromRequest(r), r.URL.Query().Get("team_member"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"bookings": records})
}

func (h *Handler) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Bookings.CreateBooking(r.Context(), actorFromRequest(r), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.UpdateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Bookings.UpdateBooking(r.Context(), actorFromRequest(r), chi.URLParam(r, "bookingID"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	notify := queryBool(r, "notify")
	resp, err := h.Bookings.DeleteBooking(r.Context(), actorFromRequest(r), chi.URLParam(r, "bookingID"), notify)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListRecurringTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Bookings.ListRecurringTasks(r.Context(), actorFromRequest(r), r.URL.Query().Get("team_member"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"recurring_tasks": tasks})
}

func (h *Handler) handleCreateRecurringTask(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRecurringTaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Bookings.CreateRecurringTask(r.Context(), actorFromRequest(r), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleDeleteRecurringTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Bookings.DeleteRecurringTask(r.Context(), actorFromRequest(r), chi.URLParam(r, "taskID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errInvalidDate = errors.New("date must be YYYY-MM-DD")
var errInvalidMonth = errors.New("month must be YYYY-MM")

func (h *Handler) dateParam(r *http.Request) (calendar.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return h.Calendar.Today(), nil
	}
	d, err := calendar.ParseDate(raw)
	if err != nil {
		return calendar.Date{}, errInvalidDate
	}
	return d, nil
}

func (h *Handler) monthParam(r *http.Request) (int, time.Month, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("month"))
	if raw == "" {
		today := h.Calendar.Today()
		return today.Year, today.Month, nil
	}
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return 0, 0, errInvalidMonth
	}
	return t.Year(), t.Month(), nil
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return err == nil && v
}

func (h *Handler) handleDay(w http.ResponseWriter, r *http.Request) {
	date, err := h.dateParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.Calendar.Day(r.Context(), actorFromRequest(r), date, r.URL.Query().Get("team_member"), queryBool(r, "narrow"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleWeek(w http.ResponseWriter, r *http.Request) {
	date, err := h.dateParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.Calendar.Week(r.Context(), actorFromRequest(r), date, r.URL.Query().Get("team_member"), queryBool(r, "narrow"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleMonth(w http.ResponseWriter, r *http.Request) {
	year, month, err := h.monthParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.Calendar.Month(r.Context(), actorFromRequest(r), year, month, r.URL.Query().Get("team_member"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func upcomingQuery(r *http.Request) calendar.UpcomingQuery {
	return calendar.UpcomingQuery{
		Search:     r.URL.Query().Get("q"),
		TeamMember: r.URL.Query().Get("team_member"),
	}
}

func (h *Handler) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Calendar.Upcoming(r.Context(), actorFromRequest(r), upcomingQuery(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleICS(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.Calendar.WriteFeed(r.Context(), &buf, actorFromRequest(r), r.URL.Query().Get("team_member")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) page(r *http.Request, narrow bool, sequence uint64, teamMember string) (frontend.Page, error) {
	claims := claimsFromContext(r.Context())
	team, err := h.Calendar.TeamColors(r.Context())
	if err != nil {
		return frontend.Page{}, err
	}
	return frontend.Page{
		User:            claims.Username,
		Admin:           claims.IsAdmin(),
		Token:           strings.TrimSpace(r.URL.Query().Get("token")),
		TeamMember:      teamMember,
		Members:         team.Members,
		Colors:          team.Colors,
		Timezone:        h.Calendar.Config.Timezone,
		Sequence:        sequence,
		PixelsPerMinute: h.Calendar.Config.Layout.PixelsPerMinute,
		Narrow:          narrow,
	}, nil
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, c templ.Component) {
	var buf bytes.Buffer
	if err := c.Render(r.Context(), &buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleDayPage(w http.ResponseWriter, r *http.Request) {
	date, err := h.dateParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	narrow := queryBool(r, "narrow")
	snap, err := h.Calendar.Day(r.Context(), actorFromRequest(r), date, r.URL.Query().Get("team_member"), narrow)
	if err != nil {
		h.writePageError(w, err)
		return
	}
	p, err := h.page(r, narrow, snap.Sequence, snap.TeamMember)
	if err != nil {
		h.writePageError(w, err)
		return
	}
	h.renderPage(w, r, frontend.DayPage(p, snap.View))
}

func (h *Handler) handleWeekPage(w http.ResponseWriter, r *http.Request) {
	date, err := h.dateParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	narrow := queryBool(r, "narrow")
	snap, err := h.Calendar.Week(r.Context(), actorFromRequest(r), date, r.URL.Query().Get("team_member"), narrow)
	if err != nil {
		h.writePageError(w, err)
		return
	}
	p, err := h.page(r, narrow, snap.Sequence, snap.TeamMember)
	if err != nil {
		h.writePageError(w, err)
		return
	}
	h.renderPage(w, r, frontend.WeekPage(p, snap.View))
}

func (h *Handler) handleMonthPage(w http.ResponseWriter, r *http.Request) {
	year, month, err := h.monthParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, err := h.Calendar.Month(r.Context(), actorFromRequest(r), year, month, r.URL.Query().Get("team_member"))
	if err != nil {
		h.writePageError(w, err)
		return
	}
	p, err := h.page(r, false, snap.Sequence, snap.TeamMember)
	if err != nil {
		h.writePageError(w, err)
		return
	}
	h.renderPage(w, r, frontend.MonthPage(p, snap.View))
}

func (h *Handler) handleUpcomingPage(w http.ResponseWriter, r *http.Request) {
	q := upcomingQuery(r)
	snap, err := h.Calendar.Upcoming(r.Context(), actorFromRequest(r), q)
	if err != nil {
		h.writePageError(w, err)
		return
	}
	p, err := h.page(r, false, snap.Sequence, snap.TeamMember)
	if err != nil {
		h.writePageError(w, err)
		return
	}
	h.renderPage(w, r, frontend.UpcomingPage(p, snap.View, q.Search))
}

func (h *Handler) writePageError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), serviceStatus(err))
}

func serviceStatus(err error) int {
	var verr *booking.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, booking.ErrTeamMemberRequired),
		errors.Is(err, booking.ErrInvalidTimeRange),
		errors.Is(err, booking.ErrSpansUTCMidnight):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrNotificationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var verr *booking.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "fields": verr.Fields})
		return
	}
	status := serviceStatus(err)
	msg := err.Error()
	if status == http.StatusNotFound {
		msg = "not found"
	}
	h.writeError(w, status, msg)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.Inc(route, strconv.Itoa(status))
	})
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}
	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	return a.Port() == b.Port() && strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

type claimsContextKey struct{}

// requestToken reads the bearer header, falling back to ?token= on GET
// requests so calendar subscriptions and page links work without headers.
func requestToken(r *http.Request) string {
	if token := platformauth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if r.Method == http.MethodGet {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Identity.CurrentUser(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

func (h *Handler) uiAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.Identity.CurrentUser(requestToken(r))
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}
