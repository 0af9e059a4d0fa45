// Package migrate applies the Postgres schema with goose. The SQL files are
// compiled into every binary so deployments do not need the source tree.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are scaffolded, relative to the module root.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the migration set built into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Files resolves dir to a migration set. A blank dir selects the embedded set.
func Files(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	return os.DirFS(dir)
}

// Migrator drives goose over one database and reports progress to out.
type Migrator struct {
	provider *goose.Provider
	out      io.Writer
}

// NewMigrator builds a Postgres migrator. out may be nil to discard reports.
func NewMigrator(db *sql.DB, files fs.FS, out io.Writer) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if files == nil {
		return nil, fmt.Errorf("migration files are required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, files)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	if out == nil {
		out = io.Discard
	}
	return &Migrator{provider: provider, out: out}, nil
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	results, err := m.provider.Up(ctx)
	m.report(results...)
	if err != nil {
		return len(results), fmt.Errorf("goose up: %w", err)
	}
	return len(results), nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	result, err := m.provider.Down(ctx)
	if result != nil {
		m.report(result)
	}
	if err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// To moves the schema up or down until target is the current version.
func (m *Migrator) To(ctx context.Context, target string) error {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil || version < 0 {
		return fmt.Errorf("invalid version %q: want YYYYMMDDHHMMSS", target)
	}
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("current version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case version > current:
		results, err = m.provider.UpTo(ctx, version)
	case version < current:
		results, err = m.provider.DownTo(ctx, version)
	}
	m.report(results...)
	if err != nil {
		return fmt.Errorf("migrate %d -> %d: %w", current, version, err)
	}
	return nil
}

// Status prints one line per known migration with its applied time.
func (m *Migrator) Status(ctx context.Context) error {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("goose status: %w", err)
	}
	w := tabwriter.NewWriter(m.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED\tFILE")
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, st.Source.Path)
	}
	return w.Flush()
}

func (m *Migrator) report(results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		state := "ok"
		if r.Error != nil {
			state = r.Error.Error()
		}
		fmt.Fprintf(m.out, "%-4s %d %s (%s) %s\n", r.Direction, r.Source.Version, r.Source.Path, r.Duration.Round(time.Millisecond), state)
	}
}
