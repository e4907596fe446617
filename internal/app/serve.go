package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/cli"
	"github.com/kamaleldincom/Briefs-sub000/internal/httpapi"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "", "Host interface to bind (defaults to HTTP_HOST)")
	port := fs.Int("port", 0, "HTTP port (defaults to HTTP_PORT)")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 2*time.Minute, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	noRecheck := fs.Bool("no-recheck", false, "Serve the API without the recheck scheduler")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port < 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, code := bootstrap(envLoader)
	if code != 0 {
		return code
	}
	if *host == "" {
		*host = cfg.HTTPHost
	}
	if *port == 0 {
		*port = cfg.HTTPPort
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	eng, err := openEngine(dbCtx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	deps := httpapi.Deps{
		Stories: eng.manager,
		Stats:   eng.store,
		Cache:   eng.cache,
		DB:      eng.pool,
	}

	if !*noRecheck {
		scheduler, err := eng.scheduler(cfg, logger)
		if err != nil {
			logger.Error().Err(err).Msg("recheck scheduler setup failed")
			fmt.Fprintf(os.Stderr, "Recheck setup failed: %v\n", err)
			return 1
		}
		if err := scheduler.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("recheck scheduler failed to start")
			fmt.Fprintf(os.Stderr, "Recheck start failed: %v\n", err)
			return 1
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
			defer stopCancel()
			scheduler.Stop(stopCtx)
		}()
		deps.Recheck = scheduler
	}

	srv := httpapi.NewServer(deps, logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		ActiveWindow:    cfg.ActiveStoryWindow,
		AdminTokenHash:  cfg.AdminTokenHash,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
