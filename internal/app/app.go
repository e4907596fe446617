package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kamaleldincom/Briefs-sub000/internal/cli"
	"github.com/kamaleldincom/Briefs-sub000/internal/config"
	"github.com/kamaleldincom/Briefs-sub000/internal/logging"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "fetch":
		return runFetch(args[1:])
	case "recheck":
		return runRecheck(args[1:])
	case "stories":
		return runStories(args[1:])
	case "analyze":
		return runAnalyze(args[1:])
	case "stats":
		return runStats(args[1:])
	case "serve":
		return runServe(args[1:])
	case "hash-token":
		return runHashToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "briefs CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  briefs <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health      Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest      Cluster articles from a JSON or YAML file into stories")
	fmt.Fprintln(os.Stderr, "  validate    Validate article JSON/YAML files against the article schema")
	fmt.Fprintln(os.Stderr, "  fetch       Query the article source and ingest the results")
	fmt.Fprintln(os.Stderr, "  recheck     Run one recheck pass over active stories")
	fmt.Fprintln(os.Stderr, "  stories     List active stories or show one story with its links")
	fmt.Fprintln(os.Stderr, "  analyze     Produce a combined analysis for one or more stories")
	fmt.Fprintln(os.Stderr, "  stats       Print store counters")
	fmt.Fprintln(os.Stderr, "  serve       Start the API server and recheck scheduler")
	fmt.Fprintln(os.Stderr, "  hash-token  Print the ADMIN_TOKEN_HASH value for an operator token")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"briefs <command> -h\" for command-specific flags.")
}

// bootstrap loads the env file, config and logger shared by every command.
// A non-zero code means the command should exit with it.
func bootstrap(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), 1
	}
	return cfg, logger, 0
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
