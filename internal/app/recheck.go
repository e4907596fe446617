package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/cli"
)

func runRecheck(args []string) int {
	fs := flag.NewFlagSet("recheck", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	retention := fs.Bool("retention", false, "Also run the retention sweep")

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

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("recheck setup failed")
		fmt.Fprintf(os.Stderr, "Recheck failed: %v\n", err)
		return 1
	}
	defer eng.Close()

	scheduler, err := eng.scheduler(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recheck setup failed: %v\n", err)
		return 1
	}

	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recheck failed: %v\n", err)
		return 1
	}
	if *retention {
		if err := scheduler.SweepRetention(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Retention sweep failed: %v\n", err)
			return 1
		}
	}

	if err := writeJSON(os.Stdout, report); err != nil {
		fmt.Fprintf(os.Stderr, "Write output failed: %v\n", err)
		return 1
	}
	if report.RateLimited {
		return 1
	}
	return 0
}
