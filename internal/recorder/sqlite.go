package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/model"
)

// SQLiteRecorder persists settlement history to a SQLite database. Amounts are
// stored as base-unit integer strings so nothing is lost to REAL columns.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while the keeper writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settlement_attempts (
			id             TEXT PRIMARY KEY,
			timestamp      INTEGER NOT NULL,
			pool_id        TEXT NOT NULL,
			epoch_id       INTEGER,
			status         TEXT,
			action         TEXT,
			is_feasible    INTEGER,
			fallback       TEXT,
			order_jr_inv   TEXT,
			order_sr_inv   TEXT,
			order_jr_red   TEXT,
			order_sr_red   TEXT,
			exec_jr_inv    TEXT,
			exec_sr_inv    TEXT,
			exec_jr_red    TEXT,
			exec_sr_red    TEXT,
			tx_hash        TEXT,
			error          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_pool_ts ON settlement_attempts(pool_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS halt_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			pool_id   TEXT NOT NULL,
			epoch_id  INTEGER,
			reason    TEXT,
			resumed   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_halts_pool_ts ON halt_events(pool_id, timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordAttempt(a *Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	_, err := r.db.Exec(`INSERT INTO settlement_attempts
		(id, timestamp, pool_id, epoch_id, status, action, is_feasible, fallback,
		 order_jr_inv, order_sr_inv, order_jr_red, order_sr_red,
		 exec_jr_inv, exec_sr_inv, exec_jr_red, exec_sr_red,
		 tx_hash, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Timestamp.Unix(), a.PoolID, a.EpochID, string(a.Status), string(a.Action),
		a.IsFeasible, string(a.Fallback),
		a.Orders.JuniorInvest.Dec(), a.Orders.SeniorInvest.Dec(),
		a.Orders.JuniorRedeem.Dec(), a.Orders.SeniorRedeem.Dec(),
		a.Executed.JuniorInvest.Dec(), a.Executed.SeniorInvest.Dec(),
		a.Executed.JuniorRedeem.Dec(), a.Executed.SeniorRedeem.Dec(),
		a.TxHash, a.Error,
	)
	return err
}

func (r *SQLiteRecorder) RecordHalt(evt *HaltEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO halt_events
		(timestamp, pool_id, epoch_id, reason, resumed)
		VALUES (?,?,?,?,?)`,
		time.Now().Unix(), evt.PoolID, evt.EpochID, evt.Reason, evt.Resumed,
	)
	return err
}

// RecentAttempts returns the newest attempts for a pool, newest first.
func (r *SQLiteRecorder) RecentAttempts(poolID string, limit int) ([]Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT
		id, timestamp, pool_id, epoch_id, status, action, is_feasible, fallback,
		order_jr_inv, order_sr_inv, order_jr_red, order_sr_red,
		exec_jr_inv, exec_sr_inv, exec_jr_red, exec_sr_red,
		tx_hash, error
		FROM settlement_attempts WHERE pool_id = ?
		ORDER BY timestamp DESC, rowid DESC LIMIT ?`, poolID, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a                  Attempt
			ts                 int64
			status, action, fb string
			orders, executed   [4]string
		)
		if err := rows.Scan(&a.ID, &ts, &a.PoolID, &a.EpochID, &status, &action, &a.IsFeasible, &fb,
			&orders[0], &orders[1], &orders[2], &orders[3],
			&executed[0], &executed[1], &executed[2], &executed[3],
			&a.TxHash, &a.Error); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Timestamp = time.Unix(ts, 0)
		a.Status = model.EpochStatus(status)
		a.Action = model.Action(action)
		a.Fallback = model.Fallback(fb)
		if a.Orders, err = parseSnapshot(orders); err != nil {
			return nil, err
		}
		if a.Executed, err = parseSnapshot(executed); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// parseSnapshot reads amounts stored in column order jI, sI, jR, sR.
func parseSnapshot(cols [4]string) (model.OrderSnapshot, error) {
	var out model.OrderSnapshot
	types := [4]model.OrderType{model.JuniorInvest, model.SeniorInvest, model.JuniorRedeem, model.SeniorRedeem}
	for i, t := range types {
		v, err := calculator.ParseInt(cols[i])
		if err != nil {
			return model.OrderSnapshot{}, fmt.Errorf("stored %s: %w", t, err)
		}
		out.Set(t, v)
	}
	return out, nil
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
