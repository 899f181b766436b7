package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"

	"github.com/example/allybot/internal/auth"
	"github.com/example/allybot/internal/calendar"
	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/reminder"
	"github.com/example/allybot/internal/scheduler"
	"github.com/example/allybot/internal/slot"
)

const maxICSDays = 31

// Operators is the login and session side of auth.Store.
type Operators interface {
	Authenticate(ctx context.Context, username, password string) (int64, error)
	SetSession(w http.ResponseWriter, r *http.Request, operatorID int64) error
	ClearSession(w http.ResponseWriter)
	RequireAuth(next http.Handler) http.Handler
}

type Bookings interface {
	Upcoming(ctx context.Context, horizon time.Duration) ([]slot.Slot, error)
}

type Gateway interface {
	Connected() bool
}

type Reminders interface {
	Pending() []reminder.Entry
}

type Jobs interface {
	Status() []scheduler.Result
	RunNow(name string) error
}

// Server is the operator surface. Gateway, Reminders and Jobs may be nil when
// the process runs without them.
type Server struct {
	Auth      Operators
	Calendar  *calendar.Engine
	Bookings  Bookings
	Gateway   Gateway
	Reminders Reminders
	Jobs      Jobs
	Log       *zap.Logger
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	mux.Handle("/status", s.Auth.RequireAuth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/schedule", s.Auth.RequireAuth(http.HandlerFunc(s.handleSchedule)))
	mux.Handle("/calendar.ics", s.Auth.RequireAuth(http.HandlerFunc(s.handleICS)))
	mux.Handle("POST /jobs/{name}", s.Auth.RequireAuth(http.HandlerFunc(s.handleRunJob)))

	return mux
}

func (s *Server) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log.Named("web")
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var c credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&c); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c = credentials{Username: r.FormValue("username"), Password: r.FormValue("password")}
	}

	id, err := s.Auth.Authenticate(r.Context(), strings.TrimSpace(c.Username), c.Password)
	if err != nil {
		if !errors.Is(err, internaltypes.ErrUnauthorized) {
			s.log().Error("authenticate", zap.Error(err))
		}
		http.Error(w, "invalid username/password", http.StatusUnauthorized)
		return
	}
	if err := s.Auth.SetSession(w, r, id); err != nil {
		s.log().Error("set session", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.log().Info("operator logged in", zap.Int64("operator", id))
	http.Redirect(w, r, "/status", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

type statusView struct {
	Connected bool               `json:"connected"`
	Now       time.Time          `json:"now"`
	Reminders []reminderView     `json:"pending_reminders"`
	Jobs      []scheduler.Result `json:"jobs"`
}

type reminderView struct {
	Slot   string    `json:"slot"`
	SlotID string    `json:"slot_id"`
	FireAt time.Time `json:"fire_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v := statusView{Now: s.Calendar.Now(), Reminders: []reminderView{}, Jobs: []scheduler.Result{}}
	if s.Gateway != nil {
		v.Connected = s.Gateway.Connected()
	}
	if s.Reminders != nil {
		for _, e := range s.Reminders.Pending() {
			v.Reminders = append(v.Reminders, reminderView{Slot: e.Key.String(), SlotID: e.SlotID, FireAt: e.FireAt})
		}
	}
	if s.Jobs != nil {
		v.Jobs = append(v.Jobs, s.Jobs.Status()...)
	}
	writeJSON(w, http.StatusOK, v)
}

// handleRunJob runs a periodic job now, outside its schedule, and reports its result.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.Jobs == nil {
		http.Error(w, "no job runner", http.StatusServiceUnavailable)
		return
	}
	name := r.PathValue("name")
	err := s.Jobs.RunNow(name)
	if errors.Is(err, internaltypes.ErrNotFound) {
		s.writeError(w, err)
		return
	}
	id, _ := auth.OperatorIDFromContext(r.Context())
	s.log().Info("job run by operator", zap.String("job", name), zap.Int64("operator", id), zap.Error(err))
	res := map[string]string{"job": name, "status": "ok"}
	if err != nil {
		res["status"], res["error"] = "failed", err.Error()
	}
	writeJSON(w, http.StatusOK, res)
}

type hourView struct {
	Hour      int       `json:"hour"`
	Start     time.Time `json:"start"`
	Booked    bool      `json:"booked"`
	BookedBy  string    `json:"booked_by,omitempty"`
	Fulfiller string    `json:"fulfiller,omitempty"`
}

type scheduleView struct {
	Category slot.Category `json:"category"`
	Date     string        `json:"date"`
	Hours    []hourView    `json:"hours"`
}

// handleSchedule serves the 24-hour grid. category defaults to every category
// and date to today.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day := s.Calendar.Today()
	if raw := q.Get("date"); raw != "" {
		d, err := s.Calendar.ParseDate(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		day = d
	}
	cats := slot.Categories
	if raw := q.Get("category"); raw != "" {
		c, err := slot.ParseCategory(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		cats = []slot.Category{c}
	}

	out := make([]scheduleView, 0, len(cats))
	for _, c := range cats {
		entries, err := s.Calendar.DaySchedule(r.Context(), c, day)
		if err != nil {
			s.writeError(w, err)
			return
		}
		v := scheduleView{Category: c, Date: day.Format(calendar.DateLayout), Hours: make([]hourView, 0, len(entries))}
		for _, e := range entries {
			h := hourView{Hour: e.Hour, Start: e.Start, Booked: e.Status == calendar.Booked}
			if e.Booking != nil {
				h.BookedBy, h.Fulfiller = e.Booking.BookedBy, e.Booking.FulfillerID()
			}
			v.Hours = append(v.Hours, h)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxICSDays {
			s.writeError(w, internaltypes.Invalid("days must be between 1 and %d", maxICSDays))
			return
		}
		days = n
	}
	slots, err := s.Bookings.Upcoming(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="buffs.ics"`)
	_, _ = w.Write([]byte(BuildICS(slots, s.Calendar.Now())))
}

// BuildICS renders booked slots as an iCalendar feed, one hour-long event each.
func BuildICS(slots []slot.Slot, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//allybot//buff calendar//EN")
	cal.SetXWRCalName("Buff bookings")
	for _, s := range slots {
		ev := cal.AddEvent(s.ID + "@allybot")
		ev.SetDtStampTime(stamp.UTC())
		ev.SetCreatedTime(s.CreatedAt.UTC())
		ev.SetStartAt(s.At.UTC())
		ev.SetEndAt(s.At.Add(time.Hour).UTC())
		ev.SetSummary(s.Category.Title() + " buff")
		desc := "Booked by " + s.BookedBy
		if f := s.FulfillerID(); f != "" {
			desc += ", giver " + f
		}
		ev.SetDescription(desc)
	}
	return cal.Serialize()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, internaltypes.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, internaltypes.ErrNotFound), errors.Is(err, internaltypes.ErrSlotNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.log().Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func Start(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
