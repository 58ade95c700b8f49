package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // MSSQL driver
	_ "github.com/go-sql-driver/mysql"   // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib"   // PostgreSQL driver
	_ "modernc.org/sqlite"               // SQLite driver

	"github.com/ruslano69/tdtp-explorer/pkg/security"
)

// SQLSource exposes the result of a SELECT as a dataset. The query runs again
// on every Scan so nothing is cached between cycles.
type SQLSource struct {
	name   string
	db     *sql.DB
	query  string
	ownsDB bool
}

// DriverName maps a configured database type to a registered driver name.
func DriverName(dbType string) string {
	switch dbType {
	case "postgres", "postgresql", "pgx":
		return "pgx"
	case "mysql":
		return "mysql"
	case "mssql", "sqlserver":
		return "sqlserver"
	case "sqlite", "sqlite3":
		return "sqlite" // modernc.org/sqlite driver name
	default:
		return ""
	}
}

// OpenSQL checks that query is read-only, connects to the database and
// checks it answers.
func OpenSQL(ctx context.Context, dbType, dsn, query string) (*SQLSource, error) {
	driver := DriverName(dbType)
	if driver == "" {
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	if err := security.ValidateReadOnly(query); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	src := NewSQLSource(dbType, db, query)
	src.ownsDB = true
	return src, nil
}

// NewSQLSource wraps an existing connection pool. Close leaves db open.
func NewSQLSource(name string, db *sql.DB, query string) *SQLSource {
	return &SQLSource{name: name, db: db, query: query}
}

func (s *SQLSource) Name() string { return s.name }

func (s *SQLSource) Columns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	return columns, nil
}

func (s *SQLSource) Scan(ctx context.Context, fn ScanFunc) error {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to get columns: %w", err)
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var index int64
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row %d: %w", index, err)
		}
		row := make(Row, len(columns))
		for i, v := range values {
			row[i] = convertSQLValue(v)
		}
		if err := fn(index, row); err != nil {
			return err
		}
		index++
	}
	return rows.Err()
}

func (s *SQLSource) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// convertSQLValue narrows driver values to the types a Row may hold.
func convertSQLValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case string, int64, float64, bool, time.Time:
		return x
	default:
		return fmt.Sprint(x)
	}
}
