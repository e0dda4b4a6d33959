package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rbright/classcal/internal/compiler"
	"github.com/rbright/classcal/internal/ratelimit"
	"github.com/rbright/classcal/internal/timetable"
)

const maxRequestBytes = 4 << 20

type Options struct {
	Holidays timetable.HolidayCalendar
	Limiter  ratelimit.Limiter
	Mode     compiler.Mode
	Location *time.Location
	Logger   *zap.Logger

	// Registry receives the server's collectors; nil creates a private one.
	Registry *prometheus.Registry
}

type Server struct {
	holidays timetable.HolidayCalendar
	limiter  ratelimit.Limiter
	mode     compiler.Mode
	loc      *time.Location
	logger   *zap.Logger
	registry *prometheus.Registry

	compiled *prometheus.CounterVec
	events   prometheus.Counter
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(0)
	}

	s := &Server{
		holidays: opts.Holidays,
		limiter:  limiter,
		mode:     opts.Mode,
		loc:      opts.Location,
		logger:   logger.Named("http"),
		registry: registry,
		compiled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classcal_calendar_requests_total",
			Help: "Calendar compile requests by outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classcal_events_emitted_total",
			Help: "Calendar events written into served calendars.",
		}),
	}
	registry.MustRegister(s.compiled, s.events)
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Get("/replacement", s.handleReplacement)
	r.Post("/calendar", s.handleCalendar)

	return r
}

type calendarRequest struct {
	CourseInfos  []timetable.CourseInfo  `json:"courseInfos"`
	SectionTimes []timetable.SectionTime `json:"sectionTimes"`
	TermStart    string                  `json:"termStart"`
	TermName     string                  `json:"termName"`
	Name         string                  `json:"name"`
	TermID       string                  `json:"termId"`
	ShuID        string                  `json:"shuId"`
	Mode         string                  `json:"mode"`

	// Absent means the server's holiday calendar; an empty list means none.
	HolidayReplacement *[]timetable.HolidayReplacement `json:"holidayReplacement"`
}

func (s *Server) handleReplacement(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.holidays.Entries())
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	var req calendarRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(&req); err != nil {
		s.reject(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Bad Request: %v", err))
		return
	}

	in, err := s.compileInput(req)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Bad Request: %v", err))
		return
	}

	s.logger.Info("generating calendar", zap.String("term_id", req.TermID), zap.Int("courses", len(req.CourseInfos)))
	result, err := compiler.Compile(in)
	if err != nil {
		s.logger.Warn("calendar generation failed", zap.Error(err))
		s.reject(w, http.StatusInternalServerError, "error", err.Error())
		return
	}

	// Only a delivered calendar starts the cooldown.
	if err := s.limiter.Acquire(r.Context(), req.ShuID); err != nil {
		if errors.Is(err, ratelimit.ErrCooldown) {
			s.reject(w, http.StatusTooManyRequests, "cooldown", "Too Many Requests")
			return
		}
		s.logger.Error("cooldown store failed", zap.Error(err))
		s.reject(w, http.StatusInternalServerError, "error", err.Error())
		return
	}

	s.compiled.WithLabelValues("ok").Inc()
	s.events.Add(float64(len(result.Events)))

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", calendarFileName(req)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result.ICS))
}

func (s *Server) compileInput(req calendarRequest) (compiler.Input, error) {
	missing := make([]string, 0, 6)
	if req.CourseInfos == nil {
		missing = append(missing, "courseInfos")
	}
	if len(req.SectionTimes) == 0 {
		missing = append(missing, "sectionTimes")
	}
	for field, value := range map[string]string{
		"termStart": req.TermStart,
		"termName":  req.TermName,
		"name":      req.Name,
		"termId":    req.TermID,
		"shuId":     req.ShuID,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return compiler.Input{}, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	termStart, err := parseTermStart(req.TermStart, s.loc)
	if err != nil {
		return compiler.Input{}, err
	}
	if termStart.Weekday() != time.Monday {
		s.logger.Warn("term start is not a monday", zap.String("term_start", termStart.String()), zap.String("weekday", termStart.Weekday().String()))
	}
	sections, err := timetable.NewSectionTable(req.SectionTimes)
	if err != nil {
		return compiler.Input{}, err
	}

	holidays := s.holidays
	if req.HolidayReplacement != nil {
		holidays, err = timetable.NewHolidayCalendar(*req.HolidayReplacement)
		if err != nil {
			return compiler.Input{}, err
		}
	}

	mode := s.mode
	if strings.TrimSpace(req.Mode) != "" {
		mode, err = compiler.ParseMode(req.Mode)
		if err != nil {
			return compiler.Input{}, err
		}
	}

	for i, course := range req.CourseInfos {
		if err := course.Validate(); err != nil {
			return compiler.Input{}, fmt.Errorf("course %d: %w", i, err)
		}
	}

	return compiler.Input{
		TermStart:   termStart,
		Sections:    sections,
		Courses:     req.CourseInfos,
		TermName:    req.TermName,
		StudentName: req.Name,
		Holidays:    holidays,
		Mode:        mode,
		Location:    s.loc,
	}, nil
}

func (s *Server) reject(w http.ResponseWriter, status int, outcome, msg string) {
	s.compiled.WithLabelValues(outcome).Inc()
	writeError(w, status, msg)
}

// parseTermStart accepts a plain date or a full timestamp. A timestamp is
// read as the calendar day it falls on in loc.
func parseTermStart(value string, loc *time.Location) (timetable.Date, error) {
	value = strings.TrimSpace(value)
	if date, err := timetable.ParseDate(value); err == nil {
		return date, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return timetable.Date{}, fmt.Errorf("termStart %q is not a date", value)
	}
	if loc == nil {
		loc = time.Local
	}
	return timetable.DateOf(parsed.In(loc)), nil
}

func calendarFileName(req calendarRequest) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', '\n', '\r':
			return '_'
		}
		return r
	}, strings.TrimSpace(req.TermID))
	return name + ".ics"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"code": -1, "msg": msg})
}
