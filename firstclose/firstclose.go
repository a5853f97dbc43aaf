// Package firstclose provides read-only access to the first-close
// database: two tables consumed only for counts. Unavailability
// degrades stats to zero rather than propagating an error.
package firstclose

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"b5engine/logger"
)

// Stats is the zero-value-safe read summary the view layer embeds.
type Stats struct {
	RowCountToday int
	PendingCount int
	Available bool
}

// Reader opens the first-close DB read-only and serves count queries.
type Reader struct {
	db *sql.DB
}

// Open opens path read-only with a busy timeout matching the rest of
// the engine's DB handles. A missing or unopenable file yields a
// Reader that always reports Stats{Available:false}, never an error.
func Open(path string) *Reader {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Warnf("first-close db open %s: %v", path, err)
		return &Reader{}
	}
	if err := db.Ping(); err != nil {
		logger.Warnf("first-close db ping %s: %v", path, err)
		return &Reader{}
	}
	return &Reader{db: db}
}

// Counts returns row counts for day, degrading to zeros if the DB is
// unavailable or the query fails.
func (r *Reader) Counts(day string) Stats {
	if r == nil || r.db == nil {
		return Stats{}
	}

	var rowCount int
	row := r.db.QueryRow(`SELECT COUNT(*) FROM first_closes WHERE day = ?`, day)
	if err := row.Scan(&rowCount); err != nil {
		logger.Debugf("first_closes count query failed: %v", err)
		return Stats{}
	}

	var pending int
	prow := r.db.QueryRow(`SELECT COUNT(*) FROM history_state WHERE done = 0`)
	if err := prow.Scan(&pending); err != nil {
		logger.Debugf("history_state pending query failed: %v", err)
		pending = 0
	}

	return Stats{RowCountToday: rowCount, PendingCount: pending, Available: true}
}

func (r *Reader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
