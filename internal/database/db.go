// Package database provides database connection and initialization
// functionality shared by every service's store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo
)

// Profile selects a PRAGMA configuration appropriate for the table's
// durability and access pattern.
type Profile string

const (
	// ProfileStandard balances safety and speed for most entity stores
	// (listings, enrichments, rent estimates, grid rows).
	ProfileStandard Profile = "standard"
	// ProfileLedger maximizes durability for append-mostly audit data
	// (alerts).
	ProfileLedger Profile = "ledger"
	// ProfileCache favors speed over durability for data that can be lost
	// (the shared bus_ledger dead-letter store).
	ProfileCache Profile = "cache"
)

// Config describes how to open a service's database.
type Config struct {
	Path    string
	Profile Profile
	Name    string // friendly name used in logs and error messages
}

// DB wraps a *sql.DB with the connection pool and PRAGMAs appropriate for
// its Profile.
type DB struct {
	Conn    *sql.DB
	Path    string
	Profile Profile
	Name    string
}

// Open opens (creating if necessary) a SQLite database configured per cfg.
func Open(cfg Config) (*DB, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve path for %s: %w", cfg.Name, err)
		}
		if dir := filepath.Dir(absPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create directory for %s: %w", cfg.Name, err)
			}
		}
		cfg.Path = absPath
	}

	connStr := buildConnectionString(cfg.Path, cfg.Profile)
	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Name, err)
	}
	configurePool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database %s: %w", cfg.Name, err)
	}

	return &DB{Conn: conn, Path: cfg.Path, Profile: cfg.Profile, Name: cfg.Name}, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error { return d.Conn.Close() }

// Exec runs schema/DDL statements, splitting on semicolons so a single
// embedded schema string can declare multiple statements.
func (d *DB) Exec(schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.Conn.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %q: %w", truncate(stmt, 60), err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func buildConnectionString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	switch profile {
	case ProfileLedger:
		connStr += "&_pragma=synchronous(FULL)"
	case ProfileCache:
		connStr += "&_pragma=synchronous(OFF)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
	}
	return connStr
}

func configurePool(conn *sql.DB, profile Profile) {
	// SQLite serializes writers regardless of Go-level pool size; keep the
	// pool small so WAL readers don't starve a writer under the
	// at-least-once-delivery retry storms described in spec.md §4.1.
	maxOpen := 10
	if profile == ProfileCache {
		maxOpen = 4
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxOpen)
	conn.SetConnMaxLifetime(0)
}
