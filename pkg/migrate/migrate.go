package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/custody-backend/pkg/logger"
)

// DefaultDir is where create and validate look on disk.
const DefaultDir = "pkg/migrate/migrations"

// Runner applies goose SQL migrations to postgres and logs each step.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

// NewRunner reads migrations from fsys, usually Migrations().
func NewRunner(db *sql.DB, fsys fs.FS, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: provider, logg: logg}, nil
}

// Run dispatches one of up, down, redo or status.
func (r *Runner) Run(ctx context.Context, command string) error {
	switch command {
	case "up":
		results, err := r.provider.Up(ctx)
		r.logResults(ctx, results...)
		return wrap("up", err)
	case "down":
		result, err := r.provider.Down(ctx)
		r.logResults(ctx, result)
		return wrap("down", err)
	case "redo":
		down, err := r.provider.Down(ctx)
		r.logResults(ctx, down)
		if err != nil {
			return wrap("redo", err)
		}
		up, err := r.provider.UpByOne(ctx)
		r.logResults(ctx, up)
		return wrap("redo", err)
	case "status":
		return r.Status(ctx)
	}
	return fmt.Errorf("unknown migrate command %q", command)
}

// ToVersion moves the schema up or down until target is the current version.
func (r *Runner) ToVersion(ctx context.Context, target string) error {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	var results []*goose.MigrationResult
	switch {
	case current < version:
		results, err = r.provider.UpTo(ctx, version)
	case current > version:
		results, err = r.provider.DownTo(ctx, version)
	}
	r.logResults(ctx, results...)
	return wrap(fmt.Sprintf("to %d", version), err)
}

// Status logs every known migration with its applied state.
func (r *Runner) Status(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return wrap("status", err)
	}
	for _, st := range statuses {
		fields := map[string]any{"version": st.Source.Version, "path": st.Source.Path, "state": string(st.State)}
		if !st.AppliedAt.IsZero() {
			fields["applied_at"] = st.AppliedAt
		}
		r.logg.Info(r.logg.WithFields(ctx, fields), "migration status")
	}
	return nil
}

func (r *Runner) logResults(ctx context.Context, results ...*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"path":        res.Source.Path,
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
		})
		if res.Error != nil {
			r.logg.Error(logCtx, "migration failed", res.Error)
			continue
		}
		r.logg.Info(logCtx, "migration applied")
	}
}

func wrap(op string, err error) error {
	if err == nil || errors.Is(err, goose.ErrNoNextVersion) {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}
