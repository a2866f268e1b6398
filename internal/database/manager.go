// Package database is the SQLite-backed message store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "roomrelay/pkg/database"
	"roomrelay/pkg/interfaces"
	applog "roomrelay/pkg/log"
	"roomrelay/pkg/types"
)

// Manager implements interfaces.MessageStore on SQLite.
// All writes go through a single goroutine; reads use the connection pool.
// The messages table is emptied on open so history never outlives the process.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	maxMessages  int
	retryDelay   time.Duration
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations, validates the schema and
// clears any rows left by a previous process. maxMessages caps each
// (room, section) log; zero keeps everything.
func NewManager(ctx context.Context, config *dbconfig.Config, maxMessages int) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	if dir := filepath.Dir(config.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbconfig.DSN(config.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err := dbconfig.NewSchemaValidator(db).Validate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	res, err := db.ExecContext(ctx, "DELETE FROM messages")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to clear messages: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger := applog.L()
		logger.Info().Int64("rows", n).Str("path", config.DatabasePath).Msg("cleared messages from previous run")
	}

	m := &Manager{
		db:           db,
		config:       config,
		maxMessages:  maxMessages,
		retryDelay:   100 * time.Millisecond,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	logger := applog.L()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if isBusy(err) && op.ctx.Err() == nil {
				logger.Warn().Err(err).Dur("retry_in", m.retryDelay).Msg("database busy, retrying write")
				time.Sleep(m.retryDelay)
				err = op.operation(op.ctx, m.db)
			}
			op.result <- err

		case <-m.shutdown:
			logger.Debug().Msg("database write loop shutting down")
			// Queued writes never ran; their callers still wait for a result.
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- interfaces.ErrStoreClosed
				default:
					return
				}
			}
		}
	}
}

// isBusy reports whether err is a transient lock error worth one retry.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// executeWrite queues operation on the writer goroutine and waits for it.
// The operation runs under a context bounded by the write timeout, so a write
// that reports ErrWriteTimeout has been rolled back. Once queued, the caller
// always waits for the writer's result.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	opCtx, cancel := context.WithTimeout(ctx, m.config.WriteTimeout)
	defer cancel()

	// Close waits for queued senders, so every queued write reaches the drain.
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: opCtx, operation: operation, result: result}:
		m.mu.RUnlock()
	case <-opCtx.Done():
		m.mu.RUnlock()
		return writeContextErr(ctx, opCtx)
	}

	err := <-result
	if err != nil && opCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrWriteTimeout, err)
	}
	return err
}

func writeContextErr(parent, op context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrWriteTimeout
}

// Append inserts message and trims its log to the retention cap.
func (m *Manager) Append(ctx context.Context, message types.Message) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, room, section, username, body, type, media_url, deleted, user_city, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			message.ID,
			message.Room,
			string(message.Section),
			message.Username,
			message.Body,
			string(message.Type),
			nullString(message.MediaURL),
			message.Deleted,
			message.UserCity,
			message.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		if m.maxMessages > 0 {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM messages
				WHERE room = ? AND section = ? AND seq NOT IN (
					SELECT seq FROM messages
					WHERE room = ? AND section = ?
					ORDER BY seq DESC
					LIMIT ?
				)
			`, message.Room, string(message.Section), message.Room, string(message.Section), m.maxMessages)
			if err != nil {
				return fmt.Errorf("failed to apply retention: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}
		return nil
	})
}

const selectColumns = `id, username, body, timestamp, room, type, media_url, deleted, user_city, section`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (types.Message, error) {
	var (
		msg      types.Message
		kind     string
		section  string
		mediaURL sql.NullString
	)
	err := row.Scan(
		&msg.ID,
		&msg.Username,
		&msg.Body,
		&msg.Timestamp,
		&msg.Room,
		&kind,
		&mediaURL,
		&msg.Deleted,
		&msg.UserCity,
		&section,
	)
	if err != nil {
		return types.Message{}, err
	}
	msg.Type = types.Kind(kind)
	msg.Section = types.Section(section)
	if mediaURL.Valid {
		msg.MediaURL = mediaURL.String
	}
	return msg, nil
}

// History returns the (room, section) log in arrival order.
func (m *Manager) History(ctx context.Context, room string, section types.Section) ([]types.Message, error) {
	if m.isClosed() {
		return nil, interfaces.ErrStoreClosed
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM messages WHERE room = ? AND section = ? ORDER BY seq ASC`,
		room, string(section),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]types.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// SoftDelete tombstones the message when requester is its author.
func (m *Manager) SoftDelete(ctx context.Context, room string, section types.Section, id, requester, placeholder string) (types.Message, error) {
	var result types.Message

	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx,
			`SELECT `+selectColumns+` FROM messages WHERE room = ? AND section = ? AND id = ?`,
			room, string(section), id,
		)
		msg, err := scanMessage(row)
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.ErrMessageNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load message: %w", err)
		}

		if msg.Username != requester {
			return interfaces.ErrForbidden
		}
		if !msg.MarkDeleted(placeholder) {
			result = msg
			return interfaces.ErrAlreadyDeleted
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET body = ?, type = ?, deleted = 1 WHERE id = ?`,
			msg.Body, string(msg.Type), msg.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit delete: %w", err)
		}

		result = msg
		return nil
	})

	return result, err
}

// HealthCheck pings the database and runs a trivial read.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.isClosed() {
		return interfaces.ErrStoreClosed
	}
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the pool. It is safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
