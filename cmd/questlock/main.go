package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kolapsis/questlock/internal/allowance"
	"github.com/kolapsis/questlock/internal/api"
	"github.com/kolapsis/questlock/internal/config"
	"github.com/kolapsis/questlock/internal/economy"
	"github.com/kolapsis/questlock/internal/events"
	"github.com/kolapsis/questlock/internal/metrics"
	"github.com/kolapsis/questlock/internal/remote"
	"github.com/kolapsis/questlock/internal/rewards"
	"github.com/kolapsis/questlock/internal/session"
	"github.com/kolapsis/questlock/internal/store"
	"github.com/kolapsis/questlock/internal/syncer"
)

var version = "dev"

func main() {
	// .env is optional; secrets usually arrive through the real environment.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("questlock %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: questlock <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the engine daemon\n")
	fmt.Fprintf(os.Stderr, "  check     Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting questlock",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("engine error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := io.Writer(os.Stdout)
	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			out = io.MultiWriter(os.Stdout, f)
		}
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	metrics.Init()

	hub := events.NewHub()

	// --- SQLite Store ---
	dbPath := config.ExpandHome(cfg.Database.Path)
	db, err := store.NewSQLiteStore(dbPath, hub)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", dbPath)

	// --- Session ---
	sessions := session.NewManager(session.Session{
		UserID: cfg.Session.UserID,
		Token:  cfg.Session.Token,
	})

	// --- Remote Client ---
	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, func() (string, bool) {
		s, ok := sessions.Current()
		return s.Token, ok
	}, cfg.Remote.Timeout)

	// --- Economy Engine ---
	engine := economy.NewEngine(db, nil)
	if err := engine.Load(ctx, cfg.Session.UserID); err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}

	// --- Reward Sequencer ---
	seq := rewards.NewSequencer(engine, hub)

	// --- Sync Coordinator ---
	coord := syncer.New(db, client, sessions, hub, syncer.Config{
		PullWindow: time.Duration(cfg.Sync.PullWindowDays) * 24 * time.Hour,
		FanOut:     cfg.Sync.FanOut,
		Debounce:   cfg.Sync.Debounce,
		RunTimeout: cfg.Sync.RunTimeout,
	})
	coord.SetAuthFailureFunc(func(err error) {
		// The token is dead; stop trying until the launcher signs in again.
		sessions.SignOut()
	})
	engine.SetChangedFunc(coord.OnProfileChanged)
	coord.SetProfilePulledFunc(func() {
		if err := engine.Reload(ctx); err != nil {
			slog.Warn("profile reload after pull failed", "error", err)
		}
	})

	go coord.Watch(ctx)

	// A session seeded from config reconciles in the background at startup.
	if _, ok := sessions.Current(); ok {
		go func() {
			if err := coord.OnFirstLogin(ctx); err != nil {
				slog.Warn("startup reconciliation failed", "error", err)
			}
		}()
	}

	// --- Allowance Service ---
	allowances := allowance.NewService(db, engine, nil)

	go maintenanceLoop(ctx, db, engine, seq, cfg.Database.RetentionDays)

	// --- HTTP Server ---
	srv := api.NewServer(api.Deps{
		Store:     db,
		Engine:    engine,
		Sequencer: seq,
		Sync:      coord,
		Allowance: allowances,
		Sessions:  sessions,
		Config:    cfg,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("questlock is ready", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return httpSrv.Shutdown(shutdownCtx)
}

// maintenanceLoop runs the local-midnight rollover and the retention purge.
// The first tick fires shortly after start so a device that slept through
// midnight settles its streak as soon as the daemon is back.
func maintenanceLoop(ctx context.Context, db store.Store, engine *economy.Engine, seq *rewards.Sequencer, retentionDays int) {
	timer := time.NewTimer(10 * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		runRollover(ctx, engine, seq)
		runPurge(ctx, db, retentionDays)

		timer.Reset(untilNextMidnight(time.Now()))
	}
}

func runRollover(ctx context.Context, engine *economy.Engine, seq *rewards.Sequencer) {
	out, err := engine.OnDailyRollover(ctx)
	if err != nil {
		slog.Warn("daily rollover failed", "error", err)
		return
	}
	if out.Freezers == nil {
		return
	}
	switch {
	case out.Freezers.Ongoing && out.Freezers.FreezersUsed > 0:
		if err := seq.BeginStreakFreezerUsed(ctx, out.DaysMissed); err != nil {
			slog.Debug("freezer dialog deferred", "error", err)
		}
	case out.Freezers.Failed:
		if err := seq.BeginStreakFailed(ctx); err != nil {
			slog.Debug("streak-failed dialog deferred", "error", err)
		}
	}
}

func runPurge(ctx context.Context, db store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	n, err := db.PurgeDestroyedQuests(ctx, cutoff)
	if err != nil {
		slog.Warn("retention purge failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("purged destroyed quests", "count", n)
	}
}

// untilNextMidnight returns the duration to the next local midnight, plus a
// minute of slack so the rollover always lands on the new calendar day.
func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now) + time.Minute
}
