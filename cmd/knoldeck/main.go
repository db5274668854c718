package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/review"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/sync"
	"github.com/conorfennell/knoldeck/internal/web"
)

func main() {
	// 1. Define and parse command-line flags
	flags := pflag.NewFlagSet("knoldeck", pflag.ExitOnError)
	config.RegisterFlags(flags)
	addSource := flags.String("add-source", "", "Register a directory or git URL as a card source and exit")
	syncOnce := flags.Bool("sync", false, "Sync all sources once and exit")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *addSource, *syncOnce); err != nil {
		logger.Error("knoldeck stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, addSource string, syncOnce bool) error {
	// 2. Open the database
	db, err := storage.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database opened successfully", "path", cfg.DB)

	syncer := sync.New(db, cfg.ReposDir, logger)

	// 3. One-shot commands
	if addSource != "" {
		src, err := syncer.AddSource(ctx, addSource)
		if err != nil {
			return err
		}
		fmt.Printf("Added %s source %d: %s\n", src.Type, src.ID, src.Path)
		return nil
	}
	if syncOnce {
		report, err := syncer.RunSync(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Synced %d sources: %d new cards, %d removed, %d errors.\n",
			report.Sources, report.Inserted, report.Deleted, report.Errors)
		return nil
	}

	// 4. Serve the API
	if cfg.SyncInterval > 0 {
		stopSync, err := syncer.Schedule(ctx, cfg.SyncInterval)
		if err != nil {
			return err
		}
		defer stopSync()
	}

	reviews := review.NewService(db, review.SystemClock, logger, cfg.DueLimit)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.NewServer(db, reviews, syncer, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
