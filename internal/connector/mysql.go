package connector

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/core"
	"github.com/driftcap/driftcap/pkg/backuperrors"
	"github.com/driftcap/driftcap/pkg/config"
)

// MySQLConnector implements Connector against a MySQL server. Table metadata
// comes from information_schema, log segments from SHOW BINARY LOGS, and
// extraction produces a plain SQL INSERT dump. Rotated binlog segments are
// read directly from the server's binlog directory, which must be readable
// by the backup process.
type MySQLConnector struct {
	db        *sql.DB
	databases []string
	binlogDir string
	logger    *zap.Logger
}

// NewMySQLConnector opens a connection pool to the source server described
// by cfg.Source and verifies connectivity.
func NewMySQLConnector(cfg *config.Config, logger *zap.Logger) (*MySQLConnector, error) {
	mycfg, err := mysql.ParseDSN(cfg.Source.DSN)
	if err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeConfig, "invalid source DSN")
	}
	mycfg.Timeout = cfg.Source.ConnectTimeout
	// Scanning everything as raw bytes keeps value rendering in one place.
	mycfg.ParseTime = false

	db, err := sql.Open("mysql", mycfg.FormatDSN())
	if err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeConnection, "failed to open source connection")
	}
	db.SetMaxOpenConns(cfg.Source.MaxOpenConns)
	db.SetConnMaxIdleTime(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Source.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeConnection, "source server unreachable")
	}

	return &MySQLConnector{
		db:        db,
		databases: cfg.Source.Databases,
		binlogDir: cfg.Source.BinlogDir,
		logger:    logger,
	}, nil
}

// ListTables enumerates base tables of the configured databases.
func (c *MySQLConnector) ListTables(ctx context.Context) ([]core.EntityKey, error) {
	if len(c.databases) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(c.databases)), ",")
	query := fmt.Sprintf(`SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE' AND table_schema IN (%s)
		ORDER BY table_schema, table_name`, placeholders)

	args := make([]interface{}, len(c.databases))
	for i, d := range c.databases {
		args[i] = d
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to enumerate tables")
	}
	defer func() { _ = rows.Close() }()

	var keys []core.EntityKey
	for rows.Next() {
		var k core.EntityKey
		if err := rows.Scan(&k.Database, &k.Table); err != nil {
			return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to scan table row")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "table enumeration failed")
	}
	return keys, nil
}

// TableMetadata reads the table's last-modification instant and column
// metadata from information_schema. ModTime is nil when the storage engine
// does not report one (InnoDB before 8.0, partitioned tables).
func (c *MySQLConnector) TableMetadata(ctx context.Context, key core.EntityKey) (*TableMetadata, error) {
	meta := &TableMetadata{Key: key}

	var modTime sql.NullString
	err := c.db.QueryRowContext(ctx, `SELECT COALESCE(update_time, create_time)
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, key.Database, key.Table).Scan(&modTime)
	if err == sql.ErrNoRows {
		return nil, backuperrors.Newf(backuperrors.ErrorTypeQuery, "table %s not found", key)
	}
	if err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to read table status").
			WithDetail("table", key.String())
	}
	if modTime.Valid {
		// information_schema reports times in the server's time zone.
		if t, perr := time.ParseInLocation("2006-01-02 15:04:05", modTime.String, time.Local); perr == nil {
			meta.ModTime = &t
		}
	}

	rows, err := c.db.QueryContext(ctx, `SELECT column_name, data_type, column_key, extra
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, key.Database, key.Table)
	if err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to read column metadata").
			WithDetail("table", key.String())
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name, dataType, columnKey, extra string
		if err := rows.Scan(&name, &dataType, &columnKey, &extra); err != nil {
			return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to scan column row")
		}
		meta.Columns = append(meta.Columns, Column{
			Name:            name,
			DataType:        dataType,
			IsPrimary:       columnKey == "PRI",
			IsAutoIncrement: strings.Contains(extra, "auto_increment"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "column metadata read failed")
	}
	return meta, nil
}

// Extract dumps matching rows as INSERT statements. The predicate is a SQL
// boolean expression produced by the detection strategies; it is never
// user input.
func (c *MySQLConnector) Extract(ctx context.Context, key core.EntityKey, predicate string, w io.Writer) (int64, error) {
	query := fmt.Sprintf("SELECT * FROM %s", qualifiedName(key))
	if predicate != "" {
		query += " WHERE " + predicate
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return 0, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "extraction query failed").
			WithDetail("table", key.String())
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return 0, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to read result columns")
	}

	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = "`" + col + "`"
	}
	insertPrefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", qualifiedName(key), strings.Join(quoted, ", "))

	raw := make([]sql.RawBytes, len(cols))
	scan := make([]interface{}, len(cols))
	for i := range raw {
		scan[i] = &raw[i]
	}

	var written int64
	var sb strings.Builder
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return written, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "row scan failed").
				WithDetail("table", key.String())
		}

		sb.Reset()
		sb.WriteString(insertPrefix)
		sb.WriteByte('(')
		for i, v := range raw {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeSQLValue(&sb, v)
		}
		sb.WriteString(");\n")

		n, err := io.WriteString(w, sb.String())
		written += int64(n)
		if err != nil {
			return written, backuperrors.Wrap(err, backuperrors.ErrorTypeFile, "failed to write dump row")
		}
	}
	if err := rows.Err(); err != nil {
		// Partial extraction is a full failure; the caller discards
		// whatever was written.
		return written, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "extraction interrupted").
			WithDetail("table", key.String())
	}
	return written, nil
}

// MaxColumnValue returns the table-wide maximum of the column.
func (c *MySQLConnector) MaxColumnValue(ctx context.Context, key core.EntityKey, column string) (string, bool, error) {
	query := fmt.Sprintf("SELECT MAX(`%s`) FROM %s", column, qualifiedName(key))

	var max sql.NullString
	if err := c.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return "", false, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "max value query failed").
			WithDetail("table", key.String()).
			WithDetail("column", column)
	}
	if !max.Valid {
		return "", false, nil
	}
	return max.String, true, nil
}

// ListLogSegments returns the binary log names in server order.
func (c *MySQLConnector) ListLogSegments(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SHOW BINARY LOGS")
	if err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to list binary logs")
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to read binlog columns")
	}

	// SHOW BINARY LOGS returns Log_name, File_size, and on newer servers
	// Encrypted; only the name matters here.
	scan := make([]interface{}, len(cols))
	var name string
	scan[0] = &name
	for i := 1; i < len(cols); i++ {
		scan[i] = new(sql.RawBytes)
	}

	var segments []string
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to scan binlog row")
		}
		segments = append(segments, name)
	}
	if err := rows.Err(); err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "binlog enumeration failed")
	}
	return segments, nil
}

// FlushLogs rotates the active binary log.
func (c *MySQLConnector) FlushLogs(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "FLUSH BINARY LOGS"); err != nil {
		return backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to flush binary logs")
	}
	return nil
}

// CopyLogSegment streams one rotated binlog file from the server's binlog
// directory.
func (c *MySQLConnector) CopyLogSegment(ctx context.Context, name string, w io.Writer) (int64, error) {
	// Segment names come from SHOW BINARY LOGS, but never follow a path
	// outside the binlog directory.
	if strings.Contains(name, "/") || strings.Contains(name, "..") {
		return 0, backuperrors.Newf(backuperrors.ErrorTypeFile, "invalid log segment name %q", name)
	}

	f, err := os.Open(filepath.Join(c.binlogDir, name))
	if err != nil {
		return 0, backuperrors.Wrap(err, backuperrors.ErrorTypeFile, "failed to open log segment").
			WithDetail("segment", name)
	}
	defer func() { _ = f.Close() }()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, backuperrors.Wrap(err, backuperrors.ErrorTypeFile, "failed to copy log segment").
			WithDetail("segment", name)
	}
	return n, nil
}

// Health pings the server.
func (c *MySQLConnector) Health(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return backuperrors.Wrap(err, backuperrors.ErrorTypeConnection, "health probe failed")
	}
	return nil
}

// ConnectionUtilization reports Threads_connected relative to
// max_connections.
func (c *MySQLConnector) ConnectionUtilization(ctx context.Context) (float64, error) {
	var name string
	var connected, maxConns float64

	if err := c.db.QueryRowContext(ctx, "SHOW GLOBAL STATUS LIKE 'Threads_connected'").Scan(&name, &connected); err != nil {
		return 0, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to read Threads_connected")
	}
	if err := c.db.QueryRowContext(ctx, "SHOW GLOBAL VARIABLES LIKE 'max_connections'").Scan(&name, &maxConns); err != nil {
		return 0, backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "failed to read max_connections")
	}
	if maxConns <= 0 {
		return 0, nil
	}
	return connected / maxConns * 100, nil
}

// Close releases the connection pool.
func (c *MySQLConnector) Close() error {
	return c.db.Close()
}

func qualifiedName(key core.EntityKey) string {
	if key.Database == "" {
		return "`" + key.Table + "`"
	}
	return "`" + key.Database + "`.`" + key.Table + "`"
}

// writeSQLValue renders one raw column value as a SQL literal.
func writeSQLValue(sb *strings.Builder, v sql.RawBytes) {
	if v == nil {
		sb.WriteString("NULL")
		return
	}
	sb.WriteByte('\'')
	for _, b := range v {
		switch b {
		case '\'':
			sb.WriteString(`\'`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case 0:
			sb.WriteString(`\0`)
		default:
			sb.WriteByte(b)
		}
	}
	sb.WriteByte('\'')
}
