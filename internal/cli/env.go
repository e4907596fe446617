package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// overrideEnvVar points at an env file that wins over the --env flag.
const overrideEnvVar = "BRIEFS_ENV_FILE"

// EnvLoader loads a dotenv file chosen by flag or environment override.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag on fs and returns its loader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Path returns the file the loader will try first.
func (l *EnvLoader) Path() string {
	if l == nil {
		return ""
	}
	if custom := strings.TrimSpace(os.Getenv(overrideEnvVar)); custom != "" {
		return custom
	}
	if l.value != nil {
		if requested := strings.TrimSpace(*l.value); requested != "" {
			return requested
		}
	}
	return l.defaultPath
}

// Load reads the selected env file into the process environment, overriding
// variables that are already set.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	path := l.Path()
	if err := godotenv.Overload(path); err != nil {
		if path != l.defaultPath {
			if fallbackErr := godotenv.Overload(l.defaultPath); fallbackErr == nil {
				log.Printf("Loaded environment from fallback: %s", l.defaultPath)
				return l.defaultPath, nil
			}
		}
		return "", fmt.Errorf("failed to load env file from %s", path)
	}

	log.Printf("Loaded environment from: %s", path)
	return path, nil
}
