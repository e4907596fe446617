package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kamaleldincom/Briefs-sub000/internal/cli"
	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/pipeline"
)

type storyDetailOutput struct {
	Story    domain.Story              `json:"story"`
	Links    []domain.StoryArticleLink `json:"links"`
	Articles []domain.RawArticle       `json:"articles,omitempty"`
}

func runStories(args []string) int {
	fs := flag.NewFlagSet("stories", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	storyID := fs.String("id", "", "Show one story with its links")
	withArticles := fs.Bool("articles", false, "Include raw articles when --id is set")
	window := fs.Duration("window", 24*time.Hour, "Active story window")
	limit := fs.Int("limit", 25, "Maximum stories to list")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	id := strings.TrimSpace(*storyID)
	if id != "" {
		if _, err := uuid.Parse(id); err != nil {
			fmt.Fprintln(os.Stderr, "--id must be a UUID")
			return 2
		}
	}
	if *limit <= 0 || *limit > 1000 {
		fmt.Fprintln(os.Stderr, "--limit must be between 1 and 1000")
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
		logger.Error().Err(err).Msg("stories setup failed")
		fmt.Fprintf(os.Stderr, "Stories failed: %v\n", err)
		return 1
	}
	defer eng.Close()

	var output any
	if id != "" {
		story, links, err := eng.manager.StoryDetail(ctx, id)
		if err != nil {
			if errors.Is(err, pipeline.ErrStoryNotFound) {
				fmt.Fprintf(os.Stderr, "Story %s not found\n", id)
				return 1
			}
			fmt.Fprintf(os.Stderr, "Stories failed: %v\n", err)
			return 1
		}
		detail := storyDetailOutput{Story: story, Links: links}
		if *withArticles {
			detail.Articles, err = eng.store.GetRawArticlesByStoryID(ctx, id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Stories failed: %v\n", err)
				return 1
			}
		}
		output = detail
	} else {
		stories, err := eng.manager.ActiveStories(ctx, *window, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Stories failed: %v\n", err)
			return 1
		}
		output = stories
	}

	if err := writeJSON(os.Stdout, output); err != nil {
		fmt.Fprintf(os.Stderr, "Write output failed: %v\n", err)
		return 1
	}
	return 0
}

func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	ids := fs.String("ids", "", "Comma-separated story IDs")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	storyIDs, err := parseStoryIDs(*ids)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --ids: %v\n", err)
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
		logger.Error().Err(err).Msg("analyze setup failed")
		fmt.Fprintf(os.Stderr, "Analyze failed: %v\n", err)
		return 1
	}
	defer eng.Close()

	stories := make([]domain.Story, 0, len(storyIDs))
	for _, id := range storyIDs {
		story, err := eng.store.GetStory(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Analyze failed: story %s: %v\n", id, err)
			return 1
		}
		stories = append(stories, story)
	}

	analysis, err := eng.manager.AnalyzeStories(ctx, stories)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Analyze failed: %v\n", err)
		return 1
	}
	if err := writeJSON(os.Stdout, analysis); err != nil {
		fmt.Fprintf(os.Stderr, "Write output failed: %v\n", err)
		return 1
	}
	return 0
}

func parseStoryIDs(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%q is not a UUID", id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one story ID is required")
	}
	return ids, nil
}
