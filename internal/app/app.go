package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rbright/classcal/internal/auth"
	"github.com/rbright/classcal/internal/compiler"
	"github.com/rbright/classcal/internal/config"
	"github.com/rbright/classcal/internal/portal"
	"github.com/rbright/classcal/internal/ratelimit"
	"github.com/rbright/classcal/internal/server"
	"github.com/rbright/classcal/internal/state"
	"github.com/rbright/classcal/internal/timetable"
)

const Usage = "classcal <token|terms|courses BATCH|compile INFOS.json [OUT.ics]|serve>"

type command struct {
	name string
	args []string
}

func Run(ctx context.Context, args []string, cfg config.Runtime, logger *zap.Logger, stdout io.Writer) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd, err := parseArgs(args)
	if err != nil {
		return err
	}

	switch cmd.name {
	case "token":
		return printToken(ctx, cfg, logger, stdout)
	case "terms":
		return listTerms(ctx, cfg, logger, stdout)
	case "courses":
		return fetchCourses(ctx, cfg, logger, stdout, cmd.args[0])
	case "compile":
		out := ""
		if len(cmd.args) > 1 {
			out = cmd.args[1]
		}
		return compileFile(cfg, logger, stdout, cmd.args[0], out)
	case "serve":
		return serve(ctx, cfg, logger)
	default:
		return fmt.Errorf("unsupported command %q", cmd.name)
	}
}

func parseArgs(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, fmt.Errorf("usage: %s", Usage)
	}

	name := strings.TrimSpace(args[0])
	rest := args[1:]
	switch name {
	case "token", "terms", "serve":
		if len(rest) > 0 {
			return command{}, fmt.Errorf("unexpected argument %q", rest[0])
		}
	case "courses":
		if len(rest) != 1 || strings.TrimSpace(rest[0]) == "" {
			return command{}, fmt.Errorf("usage: classcal courses <batch>")
		}
	case "compile":
		if len(rest) < 1 || len(rest) > 2 {
			return command{}, fmt.Errorf("usage: classcal compile <infos.json> [out.ics]")
		}
	default:
		return command{}, fmt.Errorf("usage: %s", Usage)
	}
	return command{name: name, args: rest}, nil
}

// withToken logs in, hands the token to fn and always logs out afterwards.
func withToken(ctx context.Context, cfg config.Runtime, logger *zap.Logger, fn func(token string) error) error {
	if !cfg.HasCredentials() {
		return fmt.Errorf("username and password are required (SHUSTUID / SHUSTUPWD)")
	}

	authenticator, err := auth.New(auth.Config{
		AuthorizeURL: cfg.AuthorizeURL,
		ClientID:     cfg.ClientID,
		RedirectURI:  cfg.RedirectURI,
		LogoutURL:    cfg.LogoutURL,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxLoginRetries,
	}, logger)
	if err != nil {
		return err
	}

	result, err := authenticator.Authenticate(ctx, nil, auth.Credentials{Username: cfg.Username, Password: cfg.Password})
	if err != nil {
		return err
	}
	defer func() {
		if _, logoutErr := authenticator.Logout(context.WithoutCancel(ctx), result.Session); logoutErr != nil {
			logger.Warn("logout failed", zap.Error(logoutErr))
		}
	}()

	return fn(result.Token)
}

func printToken(ctx context.Context, cfg config.Runtime, logger *zap.Logger, stdout io.Writer) error {
	return withToken(ctx, cfg, logger, func(token string) error {
		_, err := fmt.Fprintln(stdout, token)
		return err
	})
}

func listTerms(ctx context.Context, cfg config.Runtime, logger *zap.Logger, stdout io.Writer) error {
	client := portal.NewClient(cfg.PortalBaseURL, cfg.Timeout)
	return withToken(ctx, cfg, logger, func(token string) error {
		info, err := client.StudentInfo(ctx, token)
		if err != nil {
			return err
		}
		logger.Info("fetched batches", zap.Int("count", len(info.Batches)))

		if err := state.SaveJSON(filepath.Join(cfg.OutputDir, "terms.json"), info.Batches); err != nil {
			return err
		}
		for _, batch := range info.Batches {
			if _, err := fmt.Fprintf(stdout, "%s\t%s\t%s\n", batch.Code, batch.SchoolTerm, batch.Name); err != nil {
				return err
			}
		}
		return nil
	})
}

type coursesDocument struct {
	Batch    string             `json:"batch"`
	TermName string             `json:"termName"`
	Name     string             `json:"name"`
	Courses  []portal.RawCourse `json:"courses"`
}

func fetchCourses(ctx context.Context, cfg config.Runtime, logger *zap.Logger, stdout io.Writer, batch string) error {
	client := portal.NewClient(cfg.PortalBaseURL, cfg.Timeout)
	return withToken(ctx, cfg, logger, func(token string) error {
		courses, err := client.Courses(ctx, token, batch)
		if err != nil {
			return err
		}
		info, err := client.StudentInfo(ctx, token)
		if err != nil {
			return err
		}
		termName, err := portal.TermName(info.Batches, batch)
		if err != nil {
			return err
		}

		path := filepath.Join(cfg.OutputDir, batch+".json")
		doc := coursesDocument{Batch: batch, TermName: termName, Name: info.Name, Courses: courses}
		if err := state.SaveJSON(path, doc); err != nil {
			return err
		}

		logger.Info("fetched courses", zap.String("term", termName), zap.Int("count", len(courses)))
		_, err = fmt.Fprintf(stdout, "%s: %d course(s) -> %s\n", termName, len(courses), path)
		return err
	})
}

func compileFile(cfg config.Runtime, logger *zap.Logger, stdout io.Writer, infosPath, outPath string) error {
	infos, err := state.LoadInfos(infosPath)
	if err != nil {
		return err
	}

	termStartText := infos.TermStart
	if strings.TrimSpace(termStartText) == "" {
		termStartText = cfg.TermStart
	}
	if strings.TrimSpace(termStartText) == "" {
		return fmt.Errorf("term start missing from %s and config", infosPath)
	}
	termStart, err := timetable.ParseDate(termStartText)
	if err != nil {
		return err
	}
	if termStart.Weekday() != time.Monday {
		logger.Warn("term start is not a monday", zap.String("term_start", termStart.String()), zap.String("weekday", termStart.Weekday().String()))
	}

	sections, err := timetable.NewSectionTable(infos.SectionTimes)
	if err != nil {
		return err
	}
	holidays, err := loadHolidays(cfg)
	if err != nil {
		return err
	}
	mode, err := compiler.ParseMode(cfg.RecurrenceMode)
	if err != nil {
		return err
	}

	result, err := compiler.Compile(compiler.Input{
		TermStart:   termStart,
		Sections:    sections,
		Courses:     infos.CourseInfos,
		TermName:    infos.TermName,
		StudentName: infos.Name,
		Holidays:    holidays,
		Mode:        mode,
		Location:    cfg.Location,
	})
	if err != nil {
		return err
	}

	if strings.TrimSpace(outPath) == "" {
		outPath = filepath.Join(cfg.OutputDir, calendarFileName(infos.TermName))
	}
	if err := state.SaveCalendar(outPath, result.ICS); err != nil {
		return err
	}

	logger.Info("calendar written",
		zap.String("calendar", result.CalendarName),
		zap.Int("events", len(result.Events)),
		zap.String("path", outPath),
	)
	_, err = fmt.Fprintf(stdout, "%s: %d event(s) -> %s\n", result.CalendarName, len(result.Events), outPath)
	return err
}

func serve(ctx context.Context, cfg config.Runtime, logger *zap.Logger) error {
	holidays, err := loadHolidays(cfg)
	if err != nil {
		return err
	}
	mode, err := compiler.ParseMode(cfg.RecurrenceMode)
	if err != nil {
		return err
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.Cooldown)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = redisClient.Close()
			return fmt.Errorf("redis ping failed: %w", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.Cooldown)
	}

	srv := server.New(server.Options{
		Holidays: holidays,
		Limiter:  limiter,
		Mode:     mode,
		Location: cfg.Location,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func loadHolidays(cfg config.Runtime) (timetable.HolidayCalendar, error) {
	if cfg.HolidaysFile == "" {
		return timetable.DefaultHolidays()
	}
	return timetable.LoadHolidaysINI(cfg.HolidaysFile)
}

func calendarFileName(termName string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(termName))
	if name == "" {
		name = "calendar"
	}
	return name + ".ics"
}
