// Package ledger persists session records produced by the timer engine.
//
// Drivers:
//   - "memory": process-local, lost on exit
//   - "file": JSON lines, rewritten on delete/reset
//   - "sqlite": SQLite database file (modernc, pure Go)
//   - "postgres": PostgreSQL through the pgx database/sql driver
//
// Writer adapts a Store to engine.Ledger so the registry never blocks on I/O.
package ledger
