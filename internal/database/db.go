package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect はデータベースの種類を表す。
type Dialect string

const (
	// DialectSQLite はSQLite（modernc.org/sqlite, CGO不要）を示す。
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres はPostgreSQL（lib/pq）を示す。
	DialectPostgres Dialect = "postgres"
)

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

func init() {
	// modernc.org/sqliteのドライバ名"sqlite"はsqlxの既定表に無いため登録する
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// ParseURL はデータベースURLからDialectとドライバ用DSNを取り出す。
// 対応形式: "sqlite://path/to/file.db"、"postgres://..."、"postgresql://..."。
func ParseURL(databaseURL string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite database path is empty")
		}
		return DialectSQLite, path, nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL scheme: %q", databaseURL)
	}
}

// Open はDATABASE_URLのスキームに応じたドライバでデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sqlx.DB, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case DialectSQLite:
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		db, err := sqlx.Open("sqlite", dsn+sep+sqlitePragmas)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// SQLiteは書き込みが直列化されるため接続は1本に絞る
		db.SetMaxOpenConns(1)
		return db, nil
	default:
		db, err := sqlx.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil
	}
}
