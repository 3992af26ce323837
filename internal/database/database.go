package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-attendance/internal/config"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Open connects to the configured database, retrying the initial ping.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		err   error
	)

	switch cfg.Driver {
	case DriverPostgres:
		sqldb, err = sql.Open("postgres", cfg.PostgresDSN())
	case DriverMySQL:
		sqldb, err = sql.Open("mysql", cfg.MySQLDSN())
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		sqldb, err = sql.Open(sqliteshim.ShimName, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		sqldb.SetMaxOpenConns(1)
	} else {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		log.LogDatabase("CONNECT", cfg.Driver, fmt.Sprintf("attempt %d/%d", i+1, maxRetries))
		if err = sqldb.PingContext(ctx); err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to %s: %v", cfg.Driver, err))
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				sqldb.Close()
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	db := NewBun(sqldb, cfg.Driver)
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	log.LogDatabase("CONNECT", cfg.Driver, "connected")
	return db, nil
}

// NewBun wraps an open *sql.DB with the dialect matching driver.
func NewBun(sqldb *sql.DB, driver string) *bun.DB {
	switch driver {
	case DriverMySQL:
		return bun.NewDB(sqldb, mysqldialect.New())
	case DriverSQLite:
		return bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return bun.NewDB(sqldb, pgdialect.New())
	}
}

var schemaModels = []interface{}{
	(*models.Member)(nil),
	(*models.Session)(nil),
	(*models.AccessToken)(nil),
	(*models.CohortMemberAccount)(nil),
	(*models.Attendance)(nil),
	(*models.DepositEvent)(nil),
}

type uniqueIndex struct {
	name    string
	model   interface{}
	columns []string
}

var schemaIndexes = []uniqueIndex{
	{"ux_attendances_session_member", (*models.Attendance)(nil), []string{"session_id", "member_id"}},
	{"ux_accounts_member_cohort", (*models.CohortMemberAccount)(nil), []string{"member_id", "cohort_id"}},
	{"ux_deposit_events_account_seq", (*models.DepositEvent)(nil), []string{"account_id", "seq"}},
}

// CreateSchema creates tables and unique indexes from the bun models. It is
// used for SQLite and MySQL; PostgreSQL goes through the migrations package.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, m := range schemaModels {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table %T: %w", m, err)
		}
	}

	for _, idx := range schemaIndexes {
		q := db.NewCreateIndex().Model(idx.model).Unique().Index(idx.name).Column(idx.columns...)
		// MySQL has no CREATE INDEX IF NOT EXISTS.
		if db.Dialect().Name() != dialect.MySQL {
			q = q.IfNotExists()
		}
		if _, err := q.Exec(ctx); err != nil && !isDuplicateIndex(err) {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// DropSchema removes every table. Used by tests and `seed -reset`.
func DropSchema(ctx context.Context, db *bun.DB) error {
	for i := len(schemaModels) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(schemaModels[i]).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1061
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is available.
func SupportsRowLocks(db bun.IDB) bool {
	return db.Dialect().Name() != dialect.SQLite
}
