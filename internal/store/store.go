// Package store owns the single SQLite connection a mounted file system is
// backed by: schema setup, the prepared-statement cache, and the mutex
// discipline needed because neither prepared statements nor the underlying
// driver connection are safe for concurrent reentrant use.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// Schema is the bit-exact layout the on-disk database must have, matching
// the wire format any other implementation of this file system would need
// to read and write. paths.id doubles as the FUSE inode number (offset by
// one, see package sqlitefs). files.id is therefore also the stable file
// handle returned by OpenFile. Neither table carries a basename, a
// directory flag, or a symlink target column: the basename is the suffix
// of path after its last slash, the type is encoded in mode's type bits,
// and a symlink's target lives in its files row's content, exactly like a
// regular file's.
const Schema = `
CREATE TABLE IF NOT EXISTS files (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	nlink   INTEGER NOT NULL DEFAULT 1,
	content BLOB,
	dev     INTEGER,
	size    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS paths (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	path      TEXT    NOT NULL,
	parent_id INTEGER,
	uid       INTEGER NOT NULL,
	gid       INTEGER NOT NULL,
	mode      INTEGER NOT NULL,
	atime     INTEGER NOT NULL,
	mtime     INTEGER NOT NULL,
	ctime     INTEGER NOT NULL,
	file_id   INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS path_idx ON paths(path);
CREATE INDEX IF NOT EXISTS file_id_idx ON paths(file_id);
`

// RootPathID is the id of the implicit root row, which is never actually
// stored in the paths table; it is synthesized on every lookup.
const RootPathID int64 = 0

// Store owns the database connection, the prepared-statement cache, and the
// lock serializing access to both, per the single-connection concurrency
// model the file system as a whole relies on.
type Store struct {
	db   *sql.DB
	path string

	clock timeutil.Clock
	log   *logrus.Entry

	mu   syncutil.InvariantMutex
	stmt map[string]*sql.Stmt
}

// Open opens (creating if necessary) the database at path, applies pragmas
// appropriate to a single-writer embedded workload, and ensures the schema
// exists.
func Open(path string, log *logrus.Entry) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=off")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// Every operation assumes a single logical connection: prepared
	// statements and any future blob handles are not reentrant.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Store{
		db:    db,
		path:  path,
		clock: timeutil.RealClock(),
		log:   log,
		stmt:  make(map[string]*sql.Stmt),
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)

	return s, nil
}

// Close releases all prepared statements and the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range s.stmt {
		stmt.Close()
	}
	return s.db.Close()
}

// Path returns the filesystem path of the database file backing the store,
// used by sqlitefs.FS.StatFS to report the capacity of the underlying
// volume rather than fabricated numbers.
func (s *Store) Path() string {
	return s.path
}

// Clock returns the time source used to stamp atime/mtime/ctime.
func (s *Store) Clock() timeutil.Clock {
	return s.clock
}

// Lock acquires the store-wide serialization lock. Every operation that
// touches the database must hold it for the duration of its statements.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the lock acquired by Lock. When syncutil's invariant
// checking is enabled this also runs checkInvariants, which only asserts
// that the Store still has a connection; the schema invariants are checked
// by sqlitefs.CheckInvariants, not here.
func (s *Store) Unlock() {
	s.mu.Unlock()
}

// prepare returns a cached prepared statement for query, preparing and
// caching it on first use. Callers must hold the store lock.
func (s *Store) prepare(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmt[query]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("store: preparing %q: %w", query, err)
	}
	s.stmt[query] = stmt
	return stmt, nil
}

// Query runs a cached prepared statement. Callers must hold the store lock.
func (s *Store) Query(query string, args ...interface{}) (*sql.Rows, error) {
	stmt, err := s.prepare(query)
	if err != nil {
		return nil, err
	}
	return stmt.Query(args...)
}

// QueryRow runs a cached prepared statement expecting at most one row.
// Callers must hold the store lock.
func (s *Store) QueryRow(query string, args ...interface{}) *sql.Row {
	stmt, err := s.prepare(query)
	if err != nil {
		// database/sql has no way to synthesize a *sql.Row carrying a prepare
		// error, so fall back to the connection directly; it will fail the
		// same way on Scan.
		return s.db.QueryRow(query, args...)
	}
	return stmt.QueryRow(args...)
}

// Exec runs a cached prepared statement. Callers must hold the store lock.
func (s *Store) Exec(query string, args ...interface{}) (sql.Result, error) {
	stmt, err := s.prepare(query)
	if err != nil {
		return nil, err
	}
	return stmt.Exec(args...)
}

// DB exposes the underlying connection for multi-statement transactions.
// Callers must hold the store lock for the duration of the transaction,
// since the pool is capped at a single connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Now returns the current time according to the store's clock, used to
// stamp atime/mtime/ctime consistently across a single operation.
func (s *Store) Now() int64 {
	return s.clock.Now().Unix()
}

// checkInvariants runs the cheap structural assertions suitable for running
// on every unlock in invariant-checking builds. The exhaustive consistency
// sweep lives in sqlitefs.CheckInvariants, which is too expensive to run on
// every single operation.
func (s *Store) checkInvariants() {
	if s.db == nil {
		panic("store: checkInvariants called on a closed Store")
	}
}
