// Command importd runs the statement import workers, the stale import reaper
// and the metrics endpoint.
//
// Usage:
//
//	importd                                   # run workers until SIGINT/SIGTERM
//	importd submit -user U -account A -file statement.ofx [-reconciliation R] [-force] [-mapping '{"date":"When"}']
//
// The submit subcommand imports one file in the foreground and prints the
// finished job as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/mapping"
	importservice "github.com/FACorreiaa/statement-import-engine/internal/domain/import/service"
	"github.com/FACorreiaa/statement-import-engine/pkg/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "importd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := InitDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	if len(args) > 0 && args[0] == "submit" {
		return submit(ctx, deps, args[1:])
	}
	return serve(ctx, deps)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// serve runs until ctx is cancelled.
func serve(ctx context.Context, d *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.Queue.Run(ctx, d.ImportService)
	})

	if d.Metrics != nil {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", d.Config.Observability.MetricsPort),
			Handler:           metricsMux(d),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			d.Logger.Info("metrics server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// Pick up imports orphaned by a previous process before taking new work.
	d.Scheduler.RunNow()
	if err := d.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	<-ctx.Done()
	d.Logger.Info("shutting down")
	<-d.Scheduler.Stop().Done()
	d.Queue.Close()

	return g.Wait()
}

func metricsMux(d *Dependencies) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.DB.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// submit imports one file synchronously.
func submit(ctx context.Context, d *Dependencies, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	userFlag := fs.String("user", "", "owning user id")
	accountFlag := fs.String("account", "", "target account id")
	fileFlag := fs.String("file", "", "statement file (OFX, QFX, CSV or XLSX)")
	recFlag := fs.String("reconciliation", "", "reconciliation to offer imported rows to")
	force := fs.Bool("force", false, "import even if the file was imported before")
	mappingFlag := fs.String("mapping", "", "column mapping as JSON for CSV/XLSX files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		return fmt.Errorf("invalid -user: %w", err)
	}
	accountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		return fmt.Errorf("invalid -account: %w", err)
	}
	if *fileFlag == "" {
		return errors.New("-file is required")
	}

	in := importservice.SubmitInput{
		UserID:        userID,
		AccountID:     accountID,
		Filename:      fileBase(*fileFlag),
		ForceReimport: *force,
	}
	if *recFlag != "" {
		recID, err := uuid.Parse(*recFlag)
		if err != nil {
			return fmt.Errorf("invalid -reconciliation: %w", err)
		}
		in.ReconciliationID = &recID
	}
	if *mappingFlag != "" {
		var m mapping.Config
		if err := json.Unmarshal([]byte(*mappingFlag), &m); err != nil {
			return fmt.Errorf("invalid -mapping: %w", err)
		}
		in.ColumnMapping = &m
	}

	f, err := os.Open(*fileFlag)
	if err != nil {
		return err
	}
	defer f.Close()
	in.Content = f

	job, err := d.ImportService.Submit(ctx, in)
	if err != nil {
		return err
	}
	if err := d.ImportService.Process(ctx, job.ID); err != nil {
		return err
	}

	job, err = d.ImportService.Get(ctx, userID, job.ID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func fileBase(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
