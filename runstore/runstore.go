// Package runstore keeps the reports of past radio sessions in a sqlite
// database.
package runstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/ranlab/rtcore/shmradio"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	role             TEXT NOT NULL,
	channel          TEXT NOT NULL,
	started          INTEGER NOT NULL,
	ended            INTEGER NOT NULL,
	tx_late          INTEGER NOT NULL,
	tx_early         INTEGER NOT NULL,
	tx_total         INTEGER NOT NULL,
	rx_late          INTEGER NOT NULL,
	rx_early         INTEGER NOT NULL,
	rx_total         INTEGER NOT NULL,
	avg_tx_budget_us REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started ON runs(started);
`

// Run is a stored session report.
type Run struct {
	ID string
	shmradio.Report
}

// Store is a run database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create run store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=1000")
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure run store: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create run store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save stores r and returns its id.
func (s *Store) Save(r shmradio.Report) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO runs
		(id, role, channel, started, ended, tx_late, tx_early, tx_total, rx_late, rx_early, rx_total, avg_tx_budget_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.Role, r.Channel, r.Started.UnixNano(), r.Ended.UnixNano(),
		int64(r.TxSamplesLate), int64(r.TxEarly), int64(r.TxSamplesTotal),
		int64(r.RxSamplesLate), int64(r.RxEarly), int64(r.RxSamplesTotal),
		r.AverageTxBudget)
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	return id, nil
}

// List returns up to limit runs, most recent first.
func (s *Store) List(limit int) ([]Run, error) {
	rows, err := s.db.Query(`SELECT id, role, channel, started, ended,
		tx_late, tx_early, tx_total, rx_late, rx_early, rx_total, avg_tx_budget_us
		FROM runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started, ended int64
		var txLate, txEarly, txTotal, rxLate, rxEarly, rxTotal int64
		if err := rows.Scan(&run.ID, &run.Role, &run.Channel, &started, &ended,
			&txLate, &txEarly, &txTotal, &rxLate, &rxEarly, &rxTotal, &run.AverageTxBudget); err != nil {
			return nil, fmt.Errorf("failed to read run: %w", err)
		}
		run.Started = time.Unix(0, started)
		run.Ended = time.Unix(0, ended)
		run.TxSamplesLate, run.TxEarly, run.TxSamplesTotal = uint64(txLate), uint64(txEarly), uint64(txTotal)
		run.RxSamplesLate, run.RxEarly, run.RxSamplesTotal = uint64(rxLate), uint64(rxEarly), uint64(rxTotal)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
