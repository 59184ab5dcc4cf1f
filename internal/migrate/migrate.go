// Package migrate applies the gateway's SQL schema and seed files. Files are
// read from an fs.FS so the binaries ship with their migrations embedded.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const historyTable = "schema_history"

// Kinds recorded in the history table.
const (
	kindMigration = "migration"
	kindSeed      = "seed"
)

// Runner executes migrations and seeds against one database. The source
// filesystem holds "sql/NNNN_name.up.sql" / ".down.sql" pairs and
// "seeds/NNNN_name.sql" files; lexical order of the base names is the
// execution order.
type Runner struct {
	db   *sql.DB
	fsys fs.FS
}

// Record is one applied entry from the history table.
type Record struct {
	Name      string
	Kind      string
	AppliedAt time.Time
}

// NewRunner constructs a Runner over the given migration filesystem.
func NewRunner(db *sql.DB, fsys fs.FS) *Runner {
	return &Runner{db: db, fsys: fsys}
}

// Up applies every pending migration and returns the names it ran.
func (r *Runner) Up(ctx context.Context) ([]string, error) {
	return r.applyPending(ctx, "sql", ".up.sql", kindMigration)
}

// Seed applies every pending seed file. Seeds run once, like migrations, so
// re-running the command after adding a seed only executes the new file.
func (r *Runner) Seed(ctx context.Context) ([]string, error) {
	return r.applyPending(ctx, "seeds", ".sql", kindSeed)
}

// Down rolls back the most recently applied migration and returns its name.
func (r *Runner) Down(ctx context.Context) (string, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return "", err
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return "", err
	}
	var last string
	for _, rec := range applied {
		if rec.Kind == kindMigration {
			last = rec.Name
		}
	}
	if last == "" {
		return "", errors.New("migrate: nothing to roll back")
	}
	downName := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	script, err := fs.ReadFile(r.fsys, "sql/"+downName)
	if err != nil {
		return "", fmt.Errorf("migrate: missing down script for %s", last)
	}
	if err := r.execScript(ctx, string(script)); err != nil {
		return "", fmt.Errorf("migrate: roll back %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx,
		`delete from `+historyTable+` where name = $1 and kind = $2`, last, kindMigration)
	if err != nil {
		return "", err
	}
	return last, nil
}

// Applied returns the history in application order.
func (r *Runner) Applied(ctx context.Context) ([]Record, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`select name, kind, applied_at from `+historyTable+` order by applied_at asc, name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Name, &rec.Kind, &rec.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Runner) applyPending(ctx context.Context, dir, suffix, kind string) ([]string, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return nil, err
	}
	done, err := r.appliedSet(ctx, kind)
	if err != nil {
		return nil, err
	}
	names, err := listScripts(r.fsys, dir, suffix)
	if err != nil {
		return nil, err
	}
	var ran []string
	for _, name := range names {
		if done[name] {
			continue
		}
		script, err := fs.ReadFile(r.fsys, dir+"/"+name)
		if err != nil {
			return ran, err
		}
		if err := r.execScript(ctx, string(script)); err != nil {
			return ran, fmt.Errorf("migrate: apply %s: %w", name, err)
		}
		if _, err := r.db.ExecContext(ctx,
			`insert into `+historyTable+`(name, kind, applied_at) values ($1, $2, $3)`,
			name, kind, time.Now().UTC()); err != nil {
			return ran, err
		}
		ran = append(ran, name)
	}
	return ran, nil
}

// execScript runs all statements of one file inside a transaction.
func (r *Runner) execScript(ctx context.Context, script string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(script) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) ensureHistory(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		create table if not exists `+historyTable+` (
			name text not null,
			kind text not null,
			applied_at timestamptz not null default now(),
			primary key (name, kind)
		)`)
	return err
}

func (r *Runner) appliedSet(ctx context.Context, kind string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`select name from `+historyTable+` where kind = $1`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		set[name] = true
	}
	return set, rows.Err()
}

func listScripts(fsys fs.FS, dir, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits a script on semicolons, ignoring semicolons inside
// single-quoted literals. Enough for the DDL and seed files this repo ships.
func splitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		inQuote bool
	)
	for _, r := range script {
		switch r {
		case '\'':
			inQuote = !inQuote
			current.WriteRune(r)
		case ';':
			current.WriteRune(r)
			if !inQuote {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
