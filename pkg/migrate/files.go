package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9]+(?:_[a-z0-9]+)*\.sql$`)
	slugRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

const scaffold = `-- +goose Up
-- +goose StatementBegin
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- +goose StatementEnd
`

// Scaffold writes an empty goose migration named <UTC timestamp>_<slug>.sql
// into dir and returns its path. Existing files are never overwritten.
func Scaffold(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	full := filepath.Join(dir, now.UTC().Format("20060102150405")+"_"+slug+".sql")
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	if _, err := f.WriteString(scaffold); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", full, err)
	}
	return full, f.Close()
}

// Validate checks naming, version uniqueness, and that each file has both
// goose sections with balanced statement blocks.
func Validate(files fs.FS) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	versions := make(map[string]string, len(names))
	for _, name := range names {
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("%s: name must look like YYYYMMDDHHMMSS_snake_case.sql", name)
		}
		if prev, dup := versions[m[1]]; dup {
			return fmt.Errorf("%s: version %s already used by %s", name, m[1], prev)
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(files, path.Clean(name))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := checkSections(string(body)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func checkSections(sql string) error {
	up := strings.Index(sql, "-- +goose Up")
	down := strings.Index(sql, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("missing -- +goose Up")
	case down < 0:
		return fmt.Errorf("missing -- +goose Down")
	case down < up:
		return fmt.Errorf("down section precedes up")
	}
	open := strings.Count(sql, "-- +goose StatementBegin")
	if closed := strings.Count(sql, "-- +goose StatementEnd"); open != closed {
		return fmt.Errorf("%d StatementBegin vs %d StatementEnd", open, closed)
	}
	return nil
}
