package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kamaleldincom/Briefs-sub000/internal/cli"
	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	payloadschema "github.com/kamaleldincom/Briefs-sub000/schema"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	payload := fs.String("payload", "", "Inline article JSON (object or array)")
	payloadFile := fs.String("file", "", "Path to an article JSON or YAML file, or - for stdin (overrides --payload)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	articles, err := loadArticles(*payload, *payloadFile, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
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
		logger.Error().Err(err).Msg("ingest setup failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	defer eng.Close()

	result := eng.manager.IngestBatch(ctx, articles)
	fmt.Printf(
		"ingest processed=%d created=%d linked=%d skipped=%d failed=%d\n",
		result.Processed,
		result.Created,
		result.Linked,
		result.Skipped,
		result.Failed,
	)
	if result.Failed > 0 {
		return 1
	}
	return 0
}

// loadArticles reads articles from filePath (JSON or YAML by extension, "-"
// for JSON on stdin) or from the inline JSON value, and validates them.
func loadArticles(inlineValue, filePath string, stdin io.Reader) ([]domain.SourceArticle, error) {
	path := strings.TrimSpace(filePath)
	switch {
	case path == "-":
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return payloadschema.ValidateArticleBatch(raw)
	case path != "":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file %q: %w", path, err)
		}
		if strings.TrimSpace(string(raw)) == "" {
			return nil, fmt.Errorf("file %q is empty", path)
		}
		if isYAMLPath(path) {
			converted, err := yamlToJSON(raw)
			if err != nil {
				return nil, fmt.Errorf("file %q: %w", path, err)
			}
			raw = converted
		}
		return payloadschema.ValidateArticleBatch(raw)
	}

	trimmed := strings.TrimSpace(inlineValue)
	if trimmed == "" {
		return nil, fmt.Errorf("one of --file or --payload is required")
	}
	return payloadschema.ValidateArticleBatch(json.RawMessage(trimmed))
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// yamlToJSON re-encodes a YAML document as JSON so it can go through the
// same schema validation as JSON payloads.
func yamlToJSON(raw []byte) ([]byte, error) {
	var value any
	if err := yaml.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode YAML: %w", err)
	}
	if value == nil {
		return nil, fmt.Errorf("YAML document is empty")
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode YAML as JSON: %w", err)
	}
	return encoded, nil
}
