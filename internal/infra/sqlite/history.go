package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tutu-network/vpcsim/internal/domain"
)

// CycleLogLimit is how many cycle summaries are retained.
const CycleLogLimit = 500

// ─── Resolved Tasks ─────────────────────────────────────────────────────────

// RecordResolved appends resolved records in one transaction.
func (d *DB) RecordResolved(records []domain.ResolvedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO resolved_tasks (cycle_id, resolved_at, pid, name, v_cpu_alloc, v_ram_alloc, score, action, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(
			r.CycleID, r.Time.UnixMilli(), r.PID, r.Name,
			r.VCPUAlloc, r.VRAMAlloc, r.Score, string(r.Action), r.Reason,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert resolved pid %d: %w", r.PID, err)
		}
	}
	return tx.Commit()
}

// RecentResolved returns the newest resolved records first.
func (d *DB) RecentResolved(limit int) ([]domain.ResolvedRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT cycle_id, resolved_at, pid, name, v_cpu_alloc, v_ram_alloc, score, action, reason
		 FROM resolved_tasks ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResolvedRecord
	for rows.Next() {
		r, err := scanResolved(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolvedCounts returns the number of resolved records per action.
func (d *DB) ResolvedCounts() (map[domain.Action]int, error) {
	rows, err := d.db.Query(`SELECT action, COUNT(*) FROM resolved_tasks GROUP BY action`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Action]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		counts[domain.Action(action)] = n
	}
	return counts, rows.Err()
}

func scanResolved(s scanner) (domain.ResolvedRecord, error) {
	var r domain.ResolvedRecord
	var at int64
	var action string
	if err := s.Scan(&r.CycleID, &at, &r.PID, &r.Name,
		&r.VCPUAlloc, &r.VRAMAlloc, &r.Score, &action, &r.Reason); err != nil {
		return r, err
	}
	r.Time = time.UnixMilli(at)
	r.Action = domain.Action(action)
	return r, nil
}

// ─── Cycle Log ──────────────────────────────────────────────────────────────

// AppendCycle adds a cycle summary and trims the log to CycleLogLimit rows.
func (d *DB) AppendCycle(e domain.CycleLogEntry) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO cycle_log (cycle_id, logged_at, status, total_ram, total_cpu, line)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.CycleID, e.Time.UnixMilli(), string(e.Status), e.TotalRAM, e.TotalCPU, e.Line,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert cycle: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM cycle_log WHERE id NOT IN (
			SELECT id FROM cycle_log ORDER BY id DESC LIMIT ?
		)`, CycleLogLimit,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("trim cycle log: %w", err)
	}
	return tx.Commit()
}

// RecentCycles returns up to limit cycle summaries, oldest first.
func (d *DB) RecentCycles(limit int) ([]domain.CycleLogEntry, error) {
	if limit <= 0 || limit > CycleLogLimit {
		limit = CycleLogLimit
	}
	rows, err := d.db.Query(
		`SELECT cycle_id, logged_at, status, total_ram, total_cpu, line FROM (
			SELECT id, cycle_id, logged_at, status, total_ram, total_cpu, line
			FROM cycle_log ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CycleLogEntry
	for rows.Next() {
		e, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastCycle returns the newest cycle summary, or nil when the log is empty.
func (d *DB) LastCycle() (*domain.CycleLogEntry, error) {
	row := d.db.QueryRow(
		`SELECT cycle_id, logged_at, status, total_ram, total_cpu, line
		 FROM cycle_log ORDER BY id DESC LIMIT 1`,
	)
	e, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil // Empty log, no error
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanCycle(s scanner) (domain.CycleLogEntry, error) {
	var e domain.CycleLogEntry
	var at int64
	var status string
	if err := s.Scan(&e.CycleID, &at, &status, &e.TotalRAM, &e.TotalCPU, &e.Line); err != nil {
		return e, err
	}
	e.Time = time.UnixMilli(at)
	e.Status = domain.CapacityStatus(status)
	return e, nil
}
