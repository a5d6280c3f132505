// Package web exposes the calendar engine as a JSON HTTP API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"taskcal/internal/auth"
	"taskcal/internal/config"
	"taskcal/internal/dateutil"
	"taskcal/internal/export"
	"taskcal/internal/lifecycle"
	applog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/recurrence"
	"taskcal/internal/store"
)

// SessionCookie is the name of the login session cookie.
const SessionCookie = "session_id"

type ctxKey int

const usernameKey ctxKey = iota

// Server provides the HTTP API over the calendar store and engine.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	engine   *recurrence.Engine
	manager  *lifecycle.Manager
	authn    *auth.Authentication
	authz    *auth.Authorization
	sessions *auth.SessionStore
	throttle *auth.LoginThrottle
	exporter *export.Exporter
	clock    dateutil.Clock
	mux      *http.ServeMux
}

// Deps carries everything a Server needs.
type Deps struct {
	Config         *config.Config
	Store          *store.Store
	Engine         *recurrence.Engine
	Manager        *lifecycle.Manager
	Authentication *auth.Authentication
	Sessions       *auth.SessionStore
	Exporter       *export.Exporter
	Clock          dateutil.Clock
}

// NewServer constructs a Server and registers its routes.
func NewServer(d Deps) *Server {
	clock := d.Clock
	if clock == nil {
		clock = dateutil.SystemClock
	}
	s := &Server{
		cfg:      d.Config,
		store:    d.Store,
		engine:   d.Engine,
		manager:  d.Manager,
		authn:    d.Authentication,
		authz:    auth.NewAuthorization(d.Store),
		sessions: d.Sessions,
		throttle: auth.NewLoginThrottle(d.Config.FailedLoginDelayBase, clock),
		exporter: d.Exporter,
		clock:    clock,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the API handler wrapped with session authentication.
func (s *Server) Handler() http.Handler {
	return s.sessionMiddleware(s.mux)
}

// StartServer runs the HTTP server until ctx is canceled, then shuts it
// down gracefully.
func StartServer(ctx context.Context, s *Server) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		applog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/logout", s.handleLogout)

	s.mux.HandleFunc("GET /api/calendars/{calendarID}/tasks", s.handleMonthTasks)
	s.mux.HandleFunc("POST /api/calendars/{calendarID}/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/calendars/{calendarID}/tasks/{year}/{month}/{day}/{taskID}", s.handleTask)
	s.mux.HandleFunc("DELETE /api/calendars/{calendarID}/tasks/{year}/{month}/{day}/{taskID}", s.handleDeleteTask)
	s.mux.HandleFunc("PUT /api/calendars/{calendarID}/tasks/{year}/{month}/{day}/{taskID}/day", s.handleMoveTask)
	s.mux.HandleFunc("POST /api/calendars/{calendarID}/tasks/{taskID}/hide", s.handleHideTask)

	s.mux.HandleFunc("GET /api/calendars/{calendarID}/ics", s.handleExport)
}

// sessionMiddleware resolves the session cookie to a username for every
// request except the unauthenticated endpoints (/health, login, and the
// key-authenticated ICS feed).
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		username, ok := s.sessions.Username(cookie.Value)
		if !ok {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), usernameKey, username)))
	})
}

func isPublicPath(r *http.Request) bool {
	switch {
	case r.URL.Path == "/health",
		r.URL.Path == "/api/login":
		return true
	case r.Method == http.MethodGet && len(r.URL.Path) > 4 && r.URL.Path[len(r.URL.Path)-4:] == "/ics":
		return true
	}
	return false
}

func requestUsername(r *http.Request) string {
	username, _ := r.Context().Value(usernameKey).(string)
	return username
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Username        string `json:"username"`
	DefaultCalendar string `json:"default_calendar"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "invalid login request")
		return
	}

	if !s.throttle.Allowed(req.Username) {
		writeError(w, http.StatusTooManyRequests, "too many failed logins, try again later")
		return
	}

	if !s.authn.IsValid(req.Username, req.Password) {
		s.throttle.Failure(req.Username)
		applog.Warn("failed login", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.throttle.Success(req.Username)

	sessionID := s.sessions.New(req.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: sameSite(s.cfg.CookieSameSite),
	})

	user, _ := s.authn.UserData(req.Username)
	applog.Info("login", "username", req.Username)
	writeJSON(w, http.StatusOK, loginResponse{
		Username:        req.Username,
		DefaultCalendar: user.DefaultCalendar,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		s.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// monthResponse is the JSON shape of the month view.
type monthResponse struct {
	Year              int           `json:"year"`
	Month             int           `json:"month"`
	Weeks             [][]int       `json:"weeks"`
	Tasks             model.DayMap  `json:"tasks"`
	PreviousMonthLink string        `json:"previous_month_link"`
	NextMonthLink     string        `json:"next_month_link"`
	WeekStart         string        `json:"week_start"`
}

// handleMonthTasks returns the merged month view.
//
// GET /api/calendars/{id}/tasks?y=2017&m=11&past=0
//   - y, m:  target month (defaults to the current one)
//   - past:  "0" blanks days before today (view-past-tasks toggle)
func (s *Server) handleMonthTasks(w http.ResponseWriter, r *http.Request) {
	calendarID := r.PathValue("calendarID")
	doc, ok := s.loadAuthorized(w, r, calendarID)
	if !ok {
		return
	}

	_, curMonth, curYear := dateutil.CurrentDate(s.clock)
	q := r.URL.Query()
	year := parseIntDefault(q.Get("y"), curYear)
	month := parseIntDefault(q.Get("m"), curMonth)
	if month < 1 || month > 12 || year < s.cfg.MinYear || year > s.cfg.MaxYear {
		writeError(w, http.StatusBadRequest, "month out of range")
		return
	}
	viewPast := q.Get("past") != "0"

	tasks, err := s.store.TasksFromCalendar(year, month, doc)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	tasks = s.engine.Merge(year, month, doc, tasks)
	if !viewPast {
		s.engine.HidePastTasks(year, month, tasks)
	}

	ws := dateutil.ParseWeekStart(s.cfg.WeekStart)
	writeJSON(w, http.StatusOK, monthResponse{
		Year:              year,
		Month:             month,
		Weeks:             dateutil.MonthDaysWithWeekday(year, month, ws),
		Tasks:             tasks,
		PreviousMonthLink: s.previousMonthLink(year, month),
		NextMonthLink:     s.nextMonthLink(year, month),
		WeekStart:         s.cfg.WeekStart,
	})
}

// handleTask returns one task. ?repeats=1 looks the id up in the
// repetition list instead of the one-off tree (the day segment is ignored
// there; the display date pins to day 1).
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	calendarID := r.PathValue("calendarID")
	doc, ok := s.loadAuthorized(w, r, calendarID)
	if !ok {
		return
	}
	year, month, day, taskID, ok := pathDateAndTask(w, r)
	if !ok {
		return
	}

	var occ model.Occurrence
	var err error
	if r.URL.Query().Get("repeats") == "1" {
		occ, err = s.store.RepetitiveTaskFromCalendar(doc, year, month, taskID)
	} else {
		occ, err = s.store.TaskFromCalendar(doc, year, month, day, taskID)
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, occ)
}

// taskPayload is the JSON body for task creation.
type taskPayload struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`

	Title     string `json:"title"`
	IsAllDay  bool   `json:"is_all_day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Details   string `json:"details"`
	Color     string `json:"color"`

	HasRepetition     bool   `json:"has_repetition"`
	RepetitionType    string `json:"repetition_type"`
	RepetitionSubtype string `json:"repetition_subtype"`
	RepetitionValue   int    `json:"repetition_value"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	calendarID := r.PathValue("calendarID")
	if _, ok := s.loadAuthorized(w, r, calendarID); !ok {
		return
	}

	var p taskPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task payload")
		return
	}

	created, err := s.manager.CreateTask(calendarID, lifecycle.NewTask{
		Year:              p.Year,
		Month:             p.Month,
		Day:               p.Day,
		Title:             p.Title,
		IsAllDay:          p.IsAllDay,
		StartTime:         p.StartTime,
		EndTime:           p.EndTime,
		Details:           p.Details,
		Color:             p.Color,
		HasRepetition:     p.HasRepetition,
		RepetitionType:    p.RepetitionType,
		RepetitionSubtype: p.RepetitionSubtype,
		RepetitionValue:   p.RepetitionValue,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !created {
		writeError(w, http.StatusBadRequest, "task rejected by validation")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	calendarID := r.PathValue("calendarID")
	if _, ok := s.loadAuthorized(w, r, calendarID); !ok {
		return
	}
	year, month, day, taskID, ok := pathDateAndTask(w, r)
	if !ok {
		return
	}

	if err := s.manager.DeleteTask(calendarID, year, month, day, taskID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveTaskRequest struct {
	NewDay int `json:"new_day"`
}

func (s *Server) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	calendarID := r.PathValue("calendarID")
	if _, ok := s.loadAuthorized(w, r, calendarID); !ok {
		return
	}
	year, month, day, taskID, ok := pathDateAndTask(w, r)
	if !ok {
		return
	}

	var req moveTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewDay < 1 || req.NewDay > dateutil.DaysInMonth(year, month) {
		writeError(w, http.StatusBadRequest, "invalid target day")
		return
	}

	if err := s.manager.UpdateTaskDay(calendarID, year, month, day, taskID, req.NewDay); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type hideTaskRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

func (s *Server) handleHideTask(w http.ResponseWriter, r *http.Request) {
	calendarID := r.PathValue("calendarID")
	if _, ok := s.loadAuthorized(w, r, calendarID); !ok {
		return
	}
	taskID, err := strconv.ParseInt(r.PathValue("taskID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var req hideTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Year == 0 || req.Month == 0 || req.Day == 0 {
		writeError(w, http.StatusBadRequest, "invalid hide request")
		return
	}

	if err := s.manager.HideRepetitionTaskInstance(calendarID, taskID, req.Year, req.Month, req.Day); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExport serves the ICS feed. Authentication is by per-user feed
// key, not session, so calendar clients can subscribe.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.FeatureICalExport {
		writeError(w, http.StatusNotFound, "ICS export disabled")
		return
	}
	calendarID := r.PathValue("calendarID")

	user, ok := s.authn.UserByICSKey(r.URL.Query().Get("key"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid feed key")
		return
	}

	doc, err := s.store.Load(calendarID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !s.authz.CanAccess(user.Username, doc) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if err := s.exporter.Export(user.Username, calendarID, doc, w); err != nil {
		applog.Error("ics export failed", err, "calendar", calendarID)
	}
}

// loadAuthorized loads the calendar and enforces access for the request's
// session user. On failure it writes the response and returns ok=false.
func (s *Server) loadAuthorized(w http.ResponseWriter, r *http.Request, calendarID string) (*model.Document, bool) {
	doc, err := s.store.Load(calendarID)
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}
	if !s.authz.CanAccess(requestUsername(r), doc) {
		writeError(w, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return doc, true
}

func (s *Server) previousMonthLink(year, month int) string {
	m, y := dateutil.PreviousMonthAndYear(year, month)
	if y < s.cfg.MinYear || y > s.cfg.MaxYear {
		return ""
	}
	return fmt.Sprintf("?y=%d&m=%d", y, m)
}

func (s *Server) nextMonthLink(year, month int) string {
	m, y := dateutil.NextMonthAndYear(year, month)
	if y < s.cfg.MinYear || y > s.cfg.MaxYear {
		return ""
	}
	return fmt.Sprintf("?y=%d&m=%d", y, m)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrIncompleteData), errors.Is(err, store.ErrInvalidFormat):
		applog.Error("bad calendar document", err)
		writeError(w, http.StatusInternalServerError, "calendar data error")
	default:
		applog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathDateAndTask(w http.ResponseWriter, r *http.Request) (year, month, day int, taskID int64, ok bool) {
	year = parseIntDefault(r.PathValue("year"), 0)
	month = parseIntDefault(r.PathValue("month"), 0)
	day = parseIntDefault(r.PathValue("day"), 0)
	id, err := strconv.ParseInt(r.PathValue("taskID"), 10, 64)
	if year == 0 || month == 0 || day == 0 || err != nil {
		writeError(w, http.StatusBadRequest, "invalid task path")
		return 0, 0, 0, 0, false
	}
	return year, month, day, id, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func sameSite(policy string) http.SameSite {
	switch policy {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
