package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvFiles lists the .env files read by Load, nearest first: the working
// directory, the data directory, then the user's ~/.asit. A variable already
// set in the environment, or by an earlier file, is never overwritten.
func EnvFiles(dataDir string) []string {
	paths := []string{".env"}
	if dataDir != "" {
		paths = append(paths, filepath.Join(dataDir, ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".asit", ".env"))
	}
	return paths
}

// LoadEnvFiles applies the .env files that exist and returns the ones read
func LoadEnvFiles(dataDir string) ([]string, error) {
	var loaded []string
	seen := make(map[string]bool)
	for _, path := range EnvFiles(dataDir) {
		abs, err := filepath.Abs(path)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := loadEnvFile(abs); err != nil {
			return loaded, fmt.Errorf("failed to read %s: %w", abs, err)
		}
		loaded = append(loaded, abs)
	}
	return loaded, nil
}

func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			value = strings.Trim(value, `"`)
		} else if strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") {
			value = strings.Trim(value, `'`)
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

var envAliases = map[string][]string{
	"ASIT_CATALOG_PATH":      {"ASIT_MEDICATIONS"},
	"ASIT_CALENDAR_TIMEZONE": {"TZ"},
	"ASIT_LOG_LEVEL":         {"LOG_LEVEL"},
	"ASIT_SERVER_PORT":       {"PORT"},
	"ASIT_SERVER_JWT_SECRET": {"ASIT_JWT_SECRET"},
}

// ResolveEnvWithAliases returns the canonical key, then its aliases, then fallback
func ResolveEnvWithAliases(canonicalKey, fallback string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}

	if aliases, ok := envAliases[canonicalKey]; ok {
		for _, alias := range aliases {
			if val := os.Getenv(alias); val != "" {
				return val
			}
		}
	}

	return fallback
}
