// Package sqlite exposes SQLite databases found in one directory for
// read-only inspection.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// MaxRows caps every result set.
const MaxRows = 1000

var sqliteHeader = []byte("SQLite format 3\x00")

var (
	// ErrNotFound is returned for an unknown database or table.
	ErrNotFound = errors.New("not found")
	// ErrInvalidName is returned for a database name that is not a plain file name.
	ErrInvalidName = errors.New("invalid database name")
	// ErrNotConfigured is returned when no database directory is set.
	ErrNotConfigured = errors.New("database directory not configured")
	// ErrInvalidQuery marks statements SQLite or the browser refused. The
	// caller sent them, so they are reported back verbatim.
	ErrInvalidQuery = errors.New("invalid query")
)

// readKeywords are the statements an ad-hoc query may start with.
var readKeywords = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"VALUES":  true,
	"EXPLAIN": true,
	"PRAGMA":  true,
}

// DatabaseInfo describes one database file.
type DatabaseInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// TableInfo describes one table or view.
type TableInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ResultSet is a bounded query result.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	// Total is the table's row count for Rows, -1 for ad-hoc queries.
	Total     int64 `json:"total"`
	Truncated bool  `json:"truncated"`
}

// Browser opens databases read-only on demand. Each call uses its own
// connection, so the files are never held open between requests.
type Browser struct {
	dir    string
	logger *slog.Logger
}

// NewBrowser creates a Browser over dir.
func NewBrowser(dir string, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{dir: dir, logger: logger}
}

// Dir returns the directory being browsed.
func (b *Browser) Dir() string {
	return b.dir
}

// Databases lists the SQLite files in the directory, identified by their
// file header rather than their extension.
func (b *Browser) Databases(ctx context.Context) ([]DatabaseInfo, error) {
	if b.dir == "" {
		return nil, ErrNotConfigured
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read database dir: %w", err)
	}

	out := make([]DatabaseInfo, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		full := filepath.Join(b.dir, e.Name())
		if !isSQLiteFile(full) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, DatabaseInfo{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Tables lists tables and views of db, excluding SQLite internals.
func (b *Browser) Tables(ctx context.Context, db string) ([]TableInfo, error) {
	conn, err := b.open(db)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx,
		"SELECT name, type FROM sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Name, &t.Type); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Rows pages through table. limit is clamped to 1..MaxRows.
func (b *Browser) Rows(ctx context.Context, db, table string, limit, offset int) (*ResultSet, error) {
	if limit <= 0 || limit > MaxRows {
		limit = MaxRows
	}
	if offset < 0 {
		offset = 0
	}

	conn, err := b.open(db)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	var name string
	err = conn.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name = ?", table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %q: %w", table, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup table: %w", err)
	}

	quoted := quoteIdent(name)
	var total int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&total); err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	rows, err := conn.QueryContext(ctx, "SELECT * FROM "+quoted+" LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rs, err := collect(rows, limit)
	if err != nil {
		return nil, err
	}
	rs.Total = total
	rs.Truncated = int64(offset+len(rs.Rows)) < total
	return rs, nil
}

// Query runs one read statement on a read-only connection and returns at
// most MaxRows rows. Input holding more than one statement is refused.
func (b *Browser) Query(ctx context.Context, db, query string) (*ResultSet, error) {
	if err := checkStatement(query); err != nil {
		return nil, err
	}

	conn, err := b.open(db)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	defer func() { _ = rows.Close() }()

	rs, err := collect(rows, MaxRows)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	rs.Total = -1
	return rs, nil
}

// open resolves name inside the directory and opens it read-only on a
// single query-only connection.
func (b *Browser) open(name string) (*sql.DB, error) {
	if b.dir == "" {
		return nil, ErrNotConfigured
	}
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	full, err := filepath.Abs(filepath.Join(b.dir, name))
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	if !isSQLiteFile(full) {
		return nil, fmt.Errorf("database %q: %w", name, ErrNotFound)
	}

	db, err := sql.Open("sqlite", readOnlyDSN(full))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set query_only: %w", err)
	}
	return db, nil
}

// readOnlyDSN builds a file: URI for path. The driver only honours query
// parameters such as mode=ro on URI names.
func readOnlyDSN(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p, RawQuery: "mode=ro"}
	return u.String()
}

// checkStatement accepts exactly one statement starting with a read
// keyword. Semicolons inside literals, quoted identifiers and comments do
// not count; a trailing semicolon is allowed.
func checkStatement(query string) error {
	body := strings.TrimSpace(query)
	if body == "" {
		return fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}

	var quote byte
	end := -1
	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}

		rest := body[i:]
		switch {
		case strings.HasPrefix(rest, "--"):
			if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
				i += nl
			} else {
				i = len(body)
			}
			continue
		case strings.HasPrefix(rest, "/*"):
			if closing := strings.Index(rest[2:], "*/"); closing >= 0 {
				i += closing + 3
			} else {
				i = len(body)
			}
			continue
		case isSpace(c):
			continue
		}

		if end >= 0 {
			return fmt.Errorf("%w: only one statement is allowed", ErrInvalidQuery)
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '[':
			quote = ']'
		case ';':
			end = i
		}
	}
	if quote != 0 {
		return fmt.Errorf("%w: unterminated quote", ErrInvalidQuery)
	}

	keyword := strings.ToUpper(firstWord(body))
	if !readKeywords[keyword] {
		return fmt.Errorf("%w: %q statements are not allowed", ErrInvalidQuery, keyword)
	}
	return nil
}

// firstWord returns the leading keyword, skipping comments and parentheses.
func firstWord(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n(")
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return ""
			}
			s = s[nl+1:]
		case strings.HasPrefix(s, "/*"):
			closing := strings.Index(s, "*/")
			if closing < 0 {
				return ""
			}
			s = s[closing+2:]
		default:
			n := strings.IndexFunc(s, func(r rune) bool {
				return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if n < 0 {
				return s
			}
			return s[:n]
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func collect(rows *sql.Rows, limit int) (*ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	rs := &ResultSet{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if len(rs.Rows) == limit {
			rs.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if raw, ok := v.([]byte); ok && utf8.Valid(raw) {
				values[i] = string(raw)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rs, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isSQLiteFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header, sqliteHeader)
}
