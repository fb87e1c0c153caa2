package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/speakgenie/speakgenie/internal/app"
	"github.com/speakgenie/speakgenie/internal/jobs"
)

// drainTimeout bounds how long shutdown waits for open conversations.
const drainTimeout = 20 * time.Second

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	// A missing .env is fine; the environment may be set by the platform.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("failed to load .env: %v", err)
	}

	cfg := app.LoadConfigFromEnv()

	// Initialize Sentry for error monitoring
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2, // 20% of requests for performance monitoring
			Environment:      cfg.Environment,
		})
		if err != nil {
			logger.Printf("sentry init failed: %v", err)
		} else {
			logger.Printf("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		logger.Fatalf("init app: %v", err)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	reaper := jobs.NewIdleReaper(a.Sessions(), logger, time.Minute, cfg.SessionIdleTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		reaper.Start()
		<-gctx.Done()
		reaper.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdown(srv, a, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("server: %v", err)
	}
}

// shutdown stops accepting sessions, gives open ones time to finish and
// then closes whatever is left.
func shutdown(srv *http.Server, a *app.App, logger *log.Logger) {
	sessions := a.Sessions()
	sessions.StartDraining()
	logger.Printf("draining %d session(s)", sessions.ActiveCount())

	done := make(chan struct{})
	go func() {
		sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		logger.Printf("drain timeout, closing %d session(s)", sessions.ActiveCount())
		sessions.CloseAll()
		<-done
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
