package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinika/attendance-reconciler/internal/config"
	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	domainReconcile "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/domain/schedule"
	"github.com/clinika/attendance-reconciler/internal/domain/tolerance"
	"github.com/clinika/attendance-reconciler/internal/domain/worker"
	appHTTP "github.com/clinika/attendance-reconciler/internal/handler/http"
	"github.com/clinika/attendance-reconciler/internal/pkg/audit"
	"github.com/clinika/attendance-reconciler/internal/pkg/clock"
	"github.com/clinika/attendance-reconciler/internal/pkg/cron"
	"github.com/clinika/attendance-reconciler/internal/pkg/database"
	"github.com/clinika/attendance-reconciler/internal/repository/memory"
	"github.com/clinika/attendance-reconciler/internal/repository/postgresql"
	"github.com/clinika/attendance-reconciler/internal/repository/sqlite"
	reconcileService "github.com/clinika/attendance-reconciler/internal/service/reconcile"
)

const usage = `Usage: reconciler <command> [flags]

Commands:
  auto-close   Run the checkout tolerance reconciliation once
  cleanup      Run the abandoned-session sweep once
  serve        Run the HTTP API with the scheduled reconciliation jobs

Flags for auto-close and cleanup:
  -dry-run     Report what would close without writing anything
  -as-of       Evaluate as of this RFC3339 timestamp instead of now
  -lookback    Limit to records at most this many days old
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	switch os.Args[1] {
	case "auto-close":
		runOnce(cfg, os.Args[2:], false)
	case "cleanup":
		runOnce(cfg, os.Args[2:], true)
	case "serve":
		serve(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// repositories is the storage surface the engine needs, regardless of the
// selected driver.
type repositories struct {
	attendances attendance.Repository
	shifts      schedule.Repository
	workers     worker.Repository
	tolerances  tolerance.Repository
	close       func()
}

func openStore(cfg *config.Config) (repositories, error) {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := database.NewPostgreSQLDB(cfg.DatabaseURL())
		if err != nil {
			return repositories{}, fmt.Errorf("connect to postgres: %w", err)
		}
		return repositories{
			attendances: postgresql.NewAttendanceRepository(db),
			shifts:      postgresql.NewShiftTemplateRepository(db),
			workers:     postgresql.NewWorkerRepository(db),
			tolerances:  postgresql.NewToleranceRepository(db),
			close:       db.Close,
		}, nil
	case "sqlite":
		store, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return repositories{}, fmt.Errorf("open sqlite store: %w", err)
		}
		return repositories{
			attendances: store,
			shifts:      store.Shifts(),
			workers:     store.Workers(),
			tolerances:  store.Tolerances(),
			close:       func() { _ = store.Close() },
		}, nil
	default:
		store := memory.NewStore()
		return repositories{
			attendances: store,
			shifts:      store.Shifts(),
			workers:     store.Workers(),
			tolerances:  store.Tolerances(),
			close:       func() {},
		}, nil
	}
}

func buildRunner(cfg *config.Config, repos repositories, clk clock.Clock, hub *audit.Hub) (*reconcileService.Runner, error) {
	tolerances, err := reconcileService.NewToleranceResolver(
		repos.workers, repos.tolerances, cfg.Reconcile.DefaultToleranceMinutes)
	if err != nil {
		return nil, err
	}
	return reconcileService.NewRunner(
		repos.attendances,
		reconcileService.NewShiftWindowResolver(repos.shifts, clk.Location()),
		tolerances,
		reconcileService.NewDecisionEngine(),
		reconcileService.NewRecorder(repos.attendances, repos.workers, hub, clk),
		clk,
		time.Duration(cfg.Reconcile.AbandonedAfterHours)*time.Hour,
	), nil
}

func runOnce(cfg *config.Config, args []string, abandoned bool) {
	name := "auto-close"
	if abandoned {
		name = "cleanup"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report without writing")
	asOfFlag := fs.String("as-of", "", "evaluate as of this RFC3339 timestamp")
	lookback := fs.Int("lookback", cfg.Reconcile.LookbackDays, "limit to records at most this many days old")
	_ = fs.Parse(args)

	req := domainReconcile.RunRequest{
		Mode:         domainReconcile.ModeLive,
		LookbackDays: *lookback,
	}
	if *dryRun {
		req.Mode = domainReconcile.ModeDryRun
	}
	if *asOfFlag != "" {
		asOf, err := time.Parse(time.RFC3339, *asOfFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Invalid -as-of value:", err)
			os.Exit(2)
		}
		req.AsOf = asOf
	}

	clk, err := clock.NewCivil(cfg.Reconcile.Timezone)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	repos, err := openStore(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer repos.close()

	runner, err := buildRunner(cfg, repos, clk, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var summary domainReconcile.RunSummary
	if abandoned {
		summary, err = runner.SweepAbandoned(ctx, req)
	} else {
		summary, err = runner.Run(ctx, req)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
}

func serve(cfg *config.Config) {
	clk, err := clock.NewCivil(cfg.Reconcile.Timezone)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	repos, err := openStore(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer repos.close()

	hub := audit.NewHub()
	runner, err := buildRunner(cfg, repos, clk, hub)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	scheduler := cron.NewScheduler()
	jobs := cron.NewReconcileJobs(runner, clk, cfg.Reconcile.LookbackDays, cfg.Reconcile.SweepHour)
	jobs.RegisterJobs(scheduler)
	scheduler.Start()
	defer scheduler.Stop()

	handler := appHTTP.NewReconcileHandler(runner, repos.attendances, hub, clk, cfg.Store.Driver)
	router := appHTTP.NewRouter(cfg.App.Env, handler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "port", cfg.App.Port, "store_driver", cfg.Store.Driver)
		errCh <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, "Server error:", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}
