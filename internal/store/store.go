// Package store provides storage backends for LeadPipe.
//
// It persists the dedup tables (seen messages and forwarded content
// fingerprints) and the message archive used by the platform adapter.
// SQLite, PostgreSQL and Badger backends are available, plus an in-memory
// store for tests.
package store

import (
	"fmt"
	"log/slog"
	"strings"
)

// DSN types returned by DetectDSNType.
const (
	DSNTypeSQLite   = "sqlite3"
	DSNTypePostgres = "postgres"
	DSNTypeBadger   = "badger"
)

// BadgerDSNPrefix marks a DSN that points at a Badger directory.
const BadgerDSNPrefix = "badger://"

// Store is the full persistence surface used by LeadPipe.
type Store interface {
	DedupRepo
	ArchiveRepo
	Close() error
}

// Opts holds configuration options for the store backends.
type Opts struct {
	DSN string // database connection string or directory
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithBadgerDir sets the Badger data directory. A "badger://" prefix is accepted.
func WithBadgerDir(dir string) Option {
	return func(o *Opts) {
		o.DSN = strings.TrimPrefix(dir, BadgerDSNPrefix)
	}
}

// DetectDSNType classifies a DSN as "postgres", "badger" or "sqlite3".
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, BadgerDSNPrefix):
		return DSNTypeBadger
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DSNTypePostgres
	case strings.Contains(dsn, "host="):
		return DSNTypePostgres
	case strings.Count(dsn, "=") >= 2 && strings.Contains(dsn, " "):
		// key=value connection string without a host, e.g. "user=x dbname=y"
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// Open creates the backend matching the DSN type.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	kind := DetectDSNType(dsn)
	slog.Debug("store.Open: selecting backend", "dsn_type", kind)
	switch kind {
	case DSNTypePostgres:
		return NewPostgresStore(WithPostgresDSN(dsn))
	case DSNTypeBadger:
		return NewBadgerStore(WithBadgerDir(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}
