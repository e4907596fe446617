package app

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type validateReport struct {
	Dir       string            `json:"dir"`
	Recursive bool              `json:"recursive"`
	Files     int               `json:"files"`
	Valid     int               `json:"valid"`
	Articles  int               `json:"articles"`
	Failures  map[string]string `json:"failures,omitempty"`
}

func runValidate(args []string) int {
	flags := flag.NewFlagSet("validate", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)

	dir := flags.String("dir", "testdata/articles", "Directory containing .json/.yaml article files")
	recursive := flags.Bool("recursive", true, "Recursively scan subdirectories")
	asJSON := flags.Bool("json", false, "Print the report as JSON")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	root := strings.TrimSpace(*dir)
	files, err := collectArticleFiles(root, *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
		return 1
	}

	report := validateFiles(files)
	report.Dir = root
	report.Recursive = *recursive

	if *asJSON {
		if err := writeJSON(os.Stdout, report); err != nil {
			fmt.Fprintf(os.Stderr, "Write output failed: %v\n", err)
			return 1
		}
	} else {
		for _, path := range sortedKeys(report.Failures) {
			fmt.Fprintf(os.Stderr, "INVALID %s: %s\n", path, report.Failures[path])
		}
		fmt.Printf(
			"validate files=%d valid=%d invalid=%d articles=%d dir=%s recursive=%t\n",
			report.Files,
			report.Valid,
			len(report.Failures),
			report.Articles,
			report.Dir,
			report.Recursive,
		)
	}

	switch {
	case report.Files == 0:
		fmt.Fprintf(os.Stderr, "Validation failed: no article files found under %s\n", root)
		return 1
	case len(report.Failures) > 0:
		return 1
	default:
		return 0
	}
}

// validateFiles runs every file through the same loader ingest uses.
func validateFiles(files []string) validateReport {
	report := validateReport{Files: len(files)}
	for _, path := range files {
		articles, err := loadArticles("", path, nil)
		if err != nil {
			if report.Failures == nil {
				report.Failures = make(map[string]string)
			}
			report.Failures[path] = err.Error()
			continue
		}
		report.Valid++
		report.Articles += len(articles)
	}
	return report
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isArticleFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".json") || isYAMLPath(name)
}

// collectArticleFiles lists article fixtures under root in lexical order.
// Hidden files and directories are skipped.
func collectArticleFiles(root string, recursive bool) ([]string, error) {
	if root == "" {
		return nil, fmt.Errorf("directory path is empty")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isArticleFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}
