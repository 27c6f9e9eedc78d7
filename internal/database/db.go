// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database provides the SQLite store backing tracked torrents,
// the event log, the errored torrent ledger and pending selections.
//
// WRITE PATH:
//
// All single-statement writes go through one writer goroutine that owns a
// dedicated connection. Multi-statement writes use BeginTx(ctx, nil), which
// runs on the same dedicated connection and holds writeTxMu until Commit or
// Rollback. The writer goroutine takes the same lock, so at most one writer
// is active.
//
// READ PATH:
//
// Reads use the pooled connection. BeginTx with ReadOnly opens a snapshot
// transaction on the pool; WAL mode lets it run concurrently with the writer.
// A snapshot is never upgraded: callers that decide to write after reading
// open a separate write transaction and re-validate what they read.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"

	"github.com/autobrr/shelf/internal/dbinterface"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type writeReq struct {
	ctx   context.Context
	query string
	args  []any
	resCh chan writeRes
}

type writeRes struct {
	result sql.Result
	err    error
}

var _ dbinterface.TxBeginner = (*DB)(nil)

type DB struct {
	conn      *sql.DB   // connection pool for reads
	writeConn *sql.Conn // dedicated connection for all writes
	writeCh   chan writeReq
	stmts     *ttlcache.Cache[string, *sql.Stmt]
	writeTxMu sync.Mutex

	stop      chan struct{}
	closeOnce sync.Once
	writerWG  sync.WaitGroup
	closing   atomic.Bool
	closeErr  error
}

// Tx wraps sql.Tx to provide prepared statement caching for transaction queries
type Tx struct {
	tx      *sql.Tx
	db      *DB
	release func()
}

// ExecContext executes a query within the transaction using cached prepared statements
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := t.db.getStmt(ctx, query)
	if err != nil {
		return t.tx.ExecContext(ctx, query, args...)
	}

	txStmt := t.tx.StmtContext(ctx, stmt)
	defer txStmt.Close()
	return txStmt.ExecContext(ctx, args...)
}

// QueryContext executes a query within the transaction using cached prepared statements
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := t.db.getStmt(ctx, query)
	if err != nil {
		return t.tx.QueryContext(ctx, query, args...)
	}

	// Rows keep the statement alive until closed; the tx-bound statement is
	// released when the transaction ends.
	txStmt := t.tx.StmtContext(ctx, stmt)
	return txStmt.QueryContext(ctx, args...)
}

// QueryRowContext executes a query within the transaction using cached prepared statements
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := t.db.getStmt(ctx, query)
	if err != nil {
		return t.tx.QueryRowContext(ctx, query, args...)
	}

	txStmt := t.tx.StmtContext(ctx, stmt)
	return txStmt.QueryRowContext(ctx, args...)
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	defer t.done()
	return t.tx.Commit()
}

// Rollback rolls back the transaction
func (t *Tx) Rollback() error {
	defer t.done()
	return t.tx.Rollback()
}

func (t *Tx) done() {
	if t.release != nil {
		t.release()
	}
}

const (
	defaultBusyTimeout       = 5 * time.Second
	defaultBusyTimeoutMillis = int(defaultBusyTimeout / time.Millisecond)
	connectionSetupTimeout   = 5 * time.Second
	writeChannelBuffer       = 256
)

var driverInit sync.Once

type pragmaExecFn func(ctx context.Context, stmt string) error

func registerConnectionHook() {
	driverInit.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
			defer cancel()

			return applyConnectionPragmas(ctx, func(ctx context.Context, stmt string) error {
				_, err := conn.ExecContext(ctx, stmt, nil)
				if err != nil {
					return fmt.Errorf("connection hook exec %q: %w", stmt, err)
				}
				return nil
			})
		})
	})
}

func applyConnectionPragmas(ctx context.Context, exec pragmaExecFn) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeoutMillis),
	}

	for _, pragma := range pragmas {
		if err := exec(ctx, pragma); err != nil {
			return fmt.Errorf("apply connection pragma %q: %w", pragma, err)
		}
	}

	return nil
}

func New(databasePath string) (*DB, error) {
	log.Info().Msgf("Initializing database at: %s", databasePath)

	dir := filepath.Dir(databasePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	registerConnectionHook()

	conn, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", databasePath, err)
	}

	// Single connection during migrations so no pooled connection sees a stale schema
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()
	if err := applyConnectionPragmas(ctx, func(ctx context.Context, stmt string) error {
		_, execErr := conn.ExecContext(ctx, stmt)
		return execErr
	}); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{
		conn:    conn,
		writeCh: make(chan writeReq, writeChannelBuffer),
		stmts:   newStmtCache(),
		stop:    make(chan struct{}),
	}

	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	conn.SetMaxOpenConns(0)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(0)

	writeConn, err := conn.Conn(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire write connection: %w", err)
	}
	db.writeConn = writeConn

	db.writerWG.Add(1)
	go db.writerLoop()

	log.Info().Msgf("Database initialized successfully at: %s", databasePath)

	return db, nil
}

func newStmtCache() *ttlcache.Cache[string, *sql.Stmt] {
	opts := ttlcache.Options[string, *sql.Stmt]{}.SetDefaultTTL(5 * time.Minute).
		SetDeallocationFunc(func(_ string, s *sql.Stmt, _ ttlcache.DeallocationReason) {
			if s != nil {
				_ = s.Close()
			}
		})
	return ttlcache.New(opts)
}

// getStmt returns a cached prepared statement for query, preparing it on a miss.
// Concurrent misses may prepare the same query twice; the loser is closed on eviction.
func (db *DB) getStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if s, found := db.stmts.Get(query); found && s != nil {
		return s, nil
	}

	s, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	db.stmts.Set(query, s, ttlcache.DefaultTTL)
	return s, nil
}

// isWriteQuery reports whether the first keyword of query mutates data.
func isWriteQuery(query string) bool {
	q := strings.TrimLeftFunc(query, unicode.IsSpace)
	if q == "" {
		return false
	}

	upper := strings.ToUpper(q)
	return strings.HasPrefix(upper, "INSERT") ||
		strings.HasPrefix(upper, "UPDATE") ||
		strings.HasPrefix(upper, "UPSERT") ||
		strings.HasPrefix(upper, "REPLACE") ||
		strings.HasPrefix(upper, "DELETE")
}

// ExecContext routes write queries through the single writer goroutine.
// Do NOT use this for queries with RETURNING clauses.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !isWriteQuery(query) {
		stmt, err := db.getStmt(ctx, query)
		if err != nil {
			return db.conn.ExecContext(ctx, query, args...)
		}
		return stmt.ExecContext(ctx, args...)
	}

	if db.closing.Load() {
		return nil, errors.New("db stopping")
	}

	resCh := make(chan writeRes, 1)
	req := writeReq{ctx: ctx, query: query, args: args, resCh: resCh}
	select {
	case db.writeCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-db.stop:
		return nil, errors.New("db stopping")
	}

	res := <-resCh
	return res.result, res.err
}

func (db *DB) writerLoop() {
	defer db.writerWG.Done()

	for {
		select {
		case req := <-db.writeCh:
			db.processWrite(req)
		case <-db.stop:
			// drain whatever was queued before stop
			for {
				select {
				case req := <-db.writeCh:
					db.processWrite(req)
				default:
					return
				}
			}
		}
	}
}

func (db *DB) processWrite(req writeReq) {
	db.writeTxMu.Lock()
	defer db.writeTxMu.Unlock()

	res, err := db.writeConn.ExecContext(req.ctx, req.query, req.args...)
	req.resCh <- writeRes{result: res, err: err}
}

// QueryContext uses reader pool and prepared statements
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return db.conn.QueryContext(ctx, query, args...)
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext uses reader pool and prepared statements
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return db.conn.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// BeginTx starts a transaction.
//
// Write transactions (opts == nil or opts.ReadOnly == false) run on the
// dedicated write connection and are serialized with every other write.
// Read-only transactions run on the pool and observe a consistent snapshot.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (dbinterface.TxQuerier, error) {
	var (
		tx  *sql.Tx
		err error
	)

	if opts != nil && opts.ReadOnly {
		tx, err = db.conn.BeginTx(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Tx{tx: tx, db: db}, nil
	}

	db.writeTxMu.Lock()
	tx, err = db.writeConn.BeginTx(ctx, opts)
	if err != nil {
		db.writeTxMu.Unlock()
		return nil, err
	}
	return &Tx{tx: tx, db: db, release: sync.OnceFunc(db.writeTxMu.Unlock)}, nil
}

// View runs fn inside a read-only snapshot transaction.
func (db *DB) View(ctx context.Context, fn func(q dbinterface.Querier) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(tx)
}

// Update runs fn inside a write transaction and commits when fn succeeds.
func (db *DB) Update(ctx context.Context, fn func(q dbinterface.Querier) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
		defer cancel()
		if _, err := db.conn.ExecContext(ctx, "PRAGMA optimize"); err != nil {
			log.Warn().Err(err).Msg("failed to run PRAGMA optimize during close")
		}

		db.closing.Store(true)
		close(db.stop)
		db.writerWG.Wait()

		db.stmts.Close()

		if db.writeConn != nil {
			if err := db.writeConn.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close write connection")
			}
		}

		db.closeErr = db.conn.Close()
	})

	return db.closeErr
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	pending, err := db.findPendingMigrations(ctx, files)
	if err != nil {
		return fmt.Errorf("failed to find pending migrations: %w", err)
	}

	if len(pending) == 0 {
		log.Debug().Msg("No pending migrations")
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, filename := range pending {
		content, err := migrationsFS.ReadFile("migrations/" + filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (filename) VALUES (?)", filename); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}

	log.Info().Msgf("Applied %d migrations successfully", len(pending))
	return nil
}

func (db *DB) findPendingMigrations(ctx context.Context, allFiles []string) ([]string, error) {
	var pending []string

	for _, filename := range allFiles {
		var count int
		err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE filename = ?", filename).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("failed to check migration status for %s: %w", filename, err)
		}

		if count == 0 {
			pending = append(pending, filename)
		}
	}

	return pending, nil
}
