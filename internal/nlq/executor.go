package nlq

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/soyeahso/voicebridge/internal/config"
	"github.com/soyeahso/voicebridge/internal/logging"
)

// SQLResult is the outcome of one executed query.
type SQLResult struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	Query           string   `json:"query"`
	ExecutionTimeMs float64  `json:"execution_time_ms"`
	ColumnsUnits    []*Unit  `json:"columns_units"`
}

// Executor runs read-only queries against the analytics database.
type Executor struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
	log     *logging.Logger
}

// OpenExecutor connects to the database named by cfg. With the sqlite
// driver and no DSN, defaultPath is used and seeded with the demo dataset.
// SQLite handles are opened query-only once seeding is done.
func OpenExecutor(ctx context.Context, cfg config.NLQConfig, defaultPath string, log *logging.Logger) (*Executor, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	dsn := cfg.DSN
	seed := false
	if driver == "sqlite" && dsn == "" {
		dsn = defaultPath
		seed = true
	}
	memory := driver == "sqlite" && dsn == ":memory:"

	if driver == "sqlite" && !memory {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("creating nlq db directory: %w", err)
		}
		if seed {
			if err := seedFile(ctx, dsn); err != nil {
				return nil, err
			}
		}
		dsn = withPragma(dsn, "query_only(1)")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	if memory {
		// A second pooled connection would see a different, empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}

	if memory {
		if seed {
			if err := SeedDemo(ctx, db); err != nil {
				db.Close()
				return nil, err
			}
		}
		if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("making nlq database query-only: %w", err)
		}
	}

	e := NewExecutor(db, driver, cfg.QueryTimeout(), log)
	e.log.Info().Str("driver", driver).Bool("demo", seed).Msg("analytics database ready")
	return e, nil
}

// seedFile fills the demo database at path through a short-lived writable
// handle.
func seedFile(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening demo database: %w", err)
	}
	defer db.Close()
	return SeedDemo(ctx, db)
}

func withPragma(dsn, pragma string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=" + url.QueryEscape(pragma)
}

// NewExecutor wraps an open database. A non-positive timeout disables the
// per-query deadline.
func NewExecutor(db *sql.DB, driver string, timeout time.Duration, log *logging.Logger) *Executor {
	return &Executor{
		db:      db,
		driver:  driver,
		timeout: timeout,
		log:     log.Sub("nlq.executor").With("driver", driver),
	}
}

// Close closes the database.
func (e *Executor) Close() error {
	return e.db.Close()
}

// Execute runs query after checking it is safe. The query runs in a
// read-only transaction that is always rolled back.
func (e *Executor) Execute(ctx context.Context, query string) (SQLResult, error) {
	if err := CheckSafe(query); err != nil {
		return SQLResult{}, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return SQLResult{}, &ExecutionError{Query: query, Err: err}
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		e.log.Warn().Err(err).Str("query", query).Msg("query failed")
		return SQLResult{}, &ExecutionError{Query: query, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return SQLResult{}, &ExecutionError{Query: query, Err: err}
	}

	result := SQLResult{Columns: columns, Rows: [][]any{}, Query: query}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return SQLResult{}, &ExecutionError{Query: query, Err: err}
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return SQLResult{}, &ExecutionError{Query: query, Err: err}
	}

	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000
	e.log.Debug().Int("rows", len(result.Rows)).Float64("ms", result.ExecutionTimeMs).Msg("query executed")
	return result, nil
}
