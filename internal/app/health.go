package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/cli"
	"github.com/kamaleldincom/Briefs-sub000/internal/db"
	"github.com/kamaleldincom/Briefs-sub000/internal/globaltime"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Database ping timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, code := bootstrap(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	oracleState := enabledLabel(cfg.OracleEnabled())
	sourceState := enabledLabel(!cfg.DatabaseOnly && strings.TrimSpace(cfg.NewsAPIKey) != "")
	logger.Info().
		Dur("timeout", *timeout).
		Str("oracle", oracleState).
		Str("article_source", sourceState).
		Msg("database health check passed")
	fmt.Printf("ok: database ping successful oracle=%s article_source=%s\n", oracleState, sourceState)
	return 0
}

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, code := bootstrap(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	stats, err := db.NewStore(pool).CountStats(ctx, globaltime.UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		return 1
	}
	if err := writeJSON(os.Stdout, stats); err != nil {
		fmt.Fprintf(os.Stderr, "Write output failed: %v\n", err)
		return 1
	}
	return 0
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
