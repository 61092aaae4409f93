package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"grabbit/pkg/logger"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	sqldblogger "github.com/simukti/sqldb-logger"
	"modernc.org/sqlite"
)

/*
 * Grabbit persists its runtime settings and job history in an embedded SQLite
 * database. The modernc.org/sqlite driver keeps the binary CGo-free, which
 * matters because the bot is typically deployed next to the cobalt container
 * on whatever host the user has lying around.
 */

const (
	SqlDialect = "sqlite3"
	driverName = "sqlite"
)

var (
	//go:embed migrations/*.sql
	migrations embed.FS

	dbLogger = logger.Get("DB")
)

type (
	DatabaseConfig struct {
		// Path is the location of the SQLite database file. The enclosing
		// directory is created if missing. An empty path is resolved by the
		// caller to a file inside the user cache dir.
		Path string `yaml:"path" env:"DB_PATH"`
	}

	SqlLogger struct {
		logger logger.Logger
	}

	// Queryable is the union of the sqlx methods that the stores rely on. Both
	// *sqlx.DB and *sqlx.Tx satisfy it, allowing store methods to run inside or
	// outside of a transaction.
	Queryable interface {
		Exec(query string, args ...any) (sql.Result, error)
		Select(dest any, query string, args ...any) error
		Get(dest any, query string, args ...any) error
		Rebind(query string) string
	}

	Manager interface {
		Connect(DatabaseConfig) error
		GetSqlxDb() *sqlx.DB
		WrapTx(func(*sqlx.Tx) error) error
	}

	manager struct {
		rawDb *sql.DB
		db    *sqlx.DB
	}
)

func New() *manager {
	return &manager{}
}

func (db *manager) Connect(config DatabaseConfig) error {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDb, err := sql.Open(driverName, config.Path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database at %s: %w", config.Path, err)
	}

	sqlDb = sqldblogger.OpenDriver(config.Path, sqlDb.Driver(), &SqlLogger{dbLogger})

	// SQLite rejects concurrent writers rather than queueing them.
	// Single connection + WAL sidesteps SQLITE_BUSY under our light write load.
	sqlDb.SetMaxOpenConns(1)
	if _, err := sqlDb.Exec("PRAGMA journal_mode=WAL"); err != nil {
		dbLogger.Emit(logger.WARNING, "Failed to enable WAL mode: %s\n", err.Error())
	}

	if err := sqlDb.Ping(); err != nil {
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	db.rawDb = sqlDb
	db.db = sqlx.NewDb(sqlDb, driverName)

	if err := db.ExecuteMigrations(); err != nil {
		return err
	}

	dbLogger.Emit(logger.SUCCESS, "Database connection complete!\n")
	return nil
}

// ExecuteMigrations uses the comp-time embedded SQL migrations (found in the 'migrations'
// dir in this package) and runs them against the current DB instance.
//
// Note that this method must only be called following a successful DB connection.
func (db *manager) ExecuteMigrations() error {
	rawDb := db.rawDb
	if rawDb == nil {
		return fmt.Errorf("cannot execute migrations when DB manager has not yet connected")
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(dbLogger)
	if err := goose.SetDialect(SqlDialect); err != nil {
		return fmt.Errorf("failed to set dialect for DB migration: %s", err.Error())
	}

	dbLogger.Emit(logger.INFO, "Checking for pending DB migrations...\n")
	if err := goose.Up(rawDb, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate DB: %s", err.Error())
	}

	dbLogger.Emit(logger.SUCCESS, "DB Goose migration complete!\n")
	return nil
}

// GetSqlxDb returns the sqlx database handle if one has been opened
// using 'Connect'. Otherwise, nil is returned.
func (db *manager) GetSqlxDb() *sqlx.DB {
	return db.db
}

// WrapTx is a convinience method around the top-level WrapTx, which simply
// uses the managers DB instance as the first argument.
func (db *manager) WrapTx(f func(tx *sqlx.Tx) error) error {
	if db.db == nil {
		return errors.New("DB manager has not yet connected")
	}

	return WrapTx(db.db, f)
}

func (l *SqlLogger) Log(_ context.Context, level sqldblogger.Level, msg string, data map[string]any) {
	template := "%s - %v\n"
	switch level {
	case sqldblogger.LevelTrace:
		l.logger.Verbosef(template, msg, data)
	case sqldblogger.LevelDebug, sqldblogger.LevelInfo:
		duration := data["duration"]
		query, ok := data["query"]
		if ok {
			l.logger.Verbosef("%s [%.2fms] -- %s\n", msg, duration, query)
		} else {
			l.logger.Verbosef("%s [%.2fms]\n", msg, duration)
		}
	case sqldblogger.LevelError:
		l.logger.Errorf(template, msg, data)
	}
}

// WrapTx starts a transaction against the provided DB, and then calls the user
// provided function. If this function errors, the transaction is rolled back - otherwise
// the transaction is committed.
func WrapTx(db *sqlx.DB, f func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		dbLogger.Errorf("Transaction failed... rolling back. Error: %s\n", err.Error())
		return err
	}

	return tx.Commit()
}

// IsConstraintViolation reports whether the error is a SQLite unique or
// check constraint failure.
func IsConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// 19 == SQLITE_CONSTRAINT
		return sqliteErr.Code()%256 == 19
	}

	return false
}
