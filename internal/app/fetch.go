package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/cli"
	"github.com/kamaleldincom/Briefs-sub000/internal/globaltime"
	"github.com/kamaleldincom/Briefs-sub000/internal/langdetect"
	"github.com/kamaleldincom/Briefs-sub000/internal/newsapi"
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	query := fs.String("q", "", "Search query")
	since := fs.Duration("since", 24*time.Hour, "Only fetch articles published within this window")
	language := fs.String("language", "", "Two-letter language filter (for example en)")
	pageSize := fs.Int("page-size", 0, "Articles per request (defaults to NEWSAPI_PAGE_SIZE)")
	dryRun := fs.Bool("dry-run", false, "Print fetched articles without ingesting them")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if strings.TrimSpace(*query) == "" {
		fmt.Fprintln(os.Stderr, "--q is required")
		return 2
	}
	if *since <= 0 {
		fmt.Fprintln(os.Stderr, "--since must be > 0")
		return 2
	}

	cfg, logger, code := bootstrap(envLoader)
	if code != 0 {
		return code
	}
	if cfg.DatabaseOnly {
		fmt.Fprintln(os.Stderr, "Fetch is disabled while DATABASE_ONLY is set")
		return 1
	}

	client, err := newsapi.New(newsapi.Options{
		BaseURL:  cfg.NewsAPIBaseURL,
		APIKey:   cfg.NewsAPIKey,
		PageSize: cfg.NewsAPIPageSize,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fetch setup failed: %v\n", err)
		return 1
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	articles, err := client.Fetch(ctx, newsapi.Query{
		Q:        strings.TrimSpace(*query),
		From:     globaltime.UTC().Add(-*since),
		Language: langdetect.NormalizeCode(*language),
		PageSize: *pageSize,
	})
	if err != nil {
		if errors.Is(err, newsapi.ErrRateLimited) {
			logger.Warn().Err(err).Msg("article source rate limited")
		}
		fmt.Fprintf(os.Stderr, "Fetch failed: %v\n", err)
		return 1
	}

	if *dryRun {
		if err := writeJSON(os.Stdout, articles); err != nil {
			fmt.Fprintf(os.Stderr, "Write output failed: %v\n", err)
			return 1
		}
		return 0
	}

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("fetch setup failed")
		fmt.Fprintf(os.Stderr, "Fetch failed: %v\n", err)
		return 1
	}
	defer eng.Close()

	result := eng.manager.IngestBatch(ctx, articles)
	fmt.Printf(
		"fetch fetched=%d processed=%d created=%d linked=%d skipped=%d failed=%d\n",
		len(articles),
		result.Processed,
		result.Created,
		result.Linked,
		result.Skipped,
		result.Failed,
	)
	return 0
}
