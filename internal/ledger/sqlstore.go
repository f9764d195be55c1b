package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"chekitimer/internal/engine"
	logx "chekitimer/pkg/logx"
)

//go:embed migrations.sql migrations_postgres.sql
var migrationsFS embed.FS

// dialect captures the few differences between the SQL drivers.
type dialect struct {
	name       string
	migrations string
	dollarArgs bool // $1, $2 placeholders instead of ?
}

var (
	sqliteDialect   = dialect{name: "sqlite", migrations: "migrations.sql"}
	postgresDialect = dialect{name: "postgres", migrations: "migrations_postgres.sql", dollarArgs: true}
)

// bind rewrites ? placeholders for dialects that number them.
func (d dialect) bind(q string) string {
	if !d.dollarArgs {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore serves both sqlite and postgres through database/sql.
type sqlStore struct {
	db     *sql.DB
	d      dialect
	log    logx.Logger
	closed atomic.Bool
}

const recordColumns = "ts_ms, timer_id, group_key, entity_key, item_names, total_units, distribution, total_seconds, overtime_seconds, status"

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(s.d.migrations)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Append(ctx context.Context, rec engine.SessionRecord) (Record, error) {
	if s.closed.Load() {
		return Record{}, ErrClosed
	}
	q := s.d.bind("INSERT INTO session_records (" + recordColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING seq")
	var seq int64
	err := s.db.QueryRowContext(ctx, q,
		rec.Timestamp.UnixMilli(),
		rec.TimerID,
		rec.GroupKey,
		rec.EntityKey,
		rec.ItemNames,
		rec.TotalUnits,
		rec.Distribution,
		rec.TotalSeconds,
		rec.OvertimeSeconds,
		string(rec.Status),
	).Scan(&seq)
	if err != nil {
		return Record{}, err
	}
	return Record{Seq: seq, SessionRecord: rec}, nil
}

func (s *sqlStore) List(ctx context.Context) ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, "SELECT seq, "+recordColumns+" FROM session_records ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r      Record
			tsMS   int64
			status string
		)
		if err := rows.Scan(
			&r.Seq,
			&tsMS,
			&r.TimerID,
			&r.GroupKey,
			&r.EntityKey,
			&r.ItemNames,
			&r.TotalUnits,
			&r.Distribution,
			&r.TotalSeconds,
			&r.OvertimeSeconds,
			&status,
		); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(tsMS).UTC()
		r.Status = engine.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) Delete(ctx context.Context, seq int64) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, s.d.bind("DELETE FROM session_records WHERE seq = ?"), seq)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Reset deletes rows rather than truncating so sequence numbers keep counting.
func (s *sqlStore) Reset(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM session_records")
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.db.Close()
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
