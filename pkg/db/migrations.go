package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const migrationsLogPrefix = "db:migrations"

// LoadMigrationFiles returns the contents of every .sql file under dir in
// lexical order. Migration files are numbered (001_..., 002_...) so lexical
// order is application order.
func LoadMigrationFiles(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("%s - bad migration dir %s: %w", migrationsLogPrefix, dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s - no .sql files in %s", migrationsLogPrefix, dir)
	}
	sort.Strings(paths)

	out := make([]string, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		out = append(out, string(data))
	}
	slog.Info(fmt.Sprintf("%s - loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}
