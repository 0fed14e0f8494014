package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tutu-network/vpcsim/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, FileName)); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := db.SetMeta("policy", "low-end"); err != nil {
		t.Fatalf("SetMeta() error: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	defer db.Close()
	got, err := db.GetMeta("policy")
	if err != nil || got != "low-end" {
		t.Errorf("GetMeta() = %q, %v; want low-end", got, err)
	}
}

func TestOpen_Ping(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

// ─── Meta ───────────────────────────────────────────────────────────────────

func TestMeta_MissingAndUpsert(t *testing.T) {
	db := newTestDB(t)

	v, err := db.GetMeta("nope")
	if err != nil || v != "" {
		t.Errorf("GetMeta(missing) = %q, %v", v, err)
	}

	db.SetMeta("k", "a")
	db.SetMeta("k", "b")
	if v, _ := db.GetMeta("k"); v != "b" {
		t.Errorf("GetMeta() = %q, want b", v)
	}
}

// ─── Resolved Tasks ─────────────────────────────────────────────────────────

func TestRecordResolved_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().Truncate(time.Millisecond)

	err := db.RecordResolved([]domain.ResolvedRecord{
		{CycleID: "c1", Time: now, PID: 1, Name: "hog", VCPUAlloc: 20, VRAMAlloc: 300, Score: 0.8, Action: domain.ActionKill, Reason: domain.ReasonKill},
		{CycleID: "c1", Time: now, PID: 2, Name: "stuck", VCPUAlloc: 0.5, VRAMAlloc: 10, Score: 0.2, Action: domain.ActionDeadlocked, Reason: domain.ReasonDeadlocked},
	})
	if err != nil {
		t.Fatalf("RecordResolved() error: %v", err)
	}

	got, err := db.RecentResolved(10)
	if err != nil {
		t.Fatalf("RecentResolved() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].PID != 2 || got[1].PID != 1 {
		t.Errorf("order = %d,%d; want 2,1", got[0].PID, got[1].PID)
	}
	if got[1].VRAMAlloc != 300 || got[1].Action != domain.ActionKill || got[1].CycleID != "c1" {
		t.Errorf("record = %+v", got[1])
	}
	if !got[1].Time.Equal(now) {
		t.Errorf("time = %v, want %v", got[1].Time, now)
	}
}

func TestRecordResolved_Empty(t *testing.T) {
	db := newTestDB(t)
	if err := db.RecordResolved(nil); err != nil {
		t.Fatalf("RecordResolved(nil) error: %v", err)
	}
	got, _ := db.RecentResolved(5)
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestResolvedCounts(t *testing.T) {
	db := newTestDB(t)
	db.RecordResolved([]domain.ResolvedRecord{
		{PID: 1, Action: domain.ActionKill},
		{PID: 2, Action: domain.ActionKill},
		{PID: 3, Action: domain.ActionEvicted},
	})

	counts, err := db.ResolvedCounts()
	if err != nil {
		t.Fatalf("ResolvedCounts() error: %v", err)
	}
	if counts[domain.ActionKill] != 2 || counts[domain.ActionEvicted] != 1 || counts[domain.ActionDeadlocked] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

// ─── Cycle Log ──────────────────────────────────────────────────────────────

func TestAppendCycle_TrimsToLimit(t *testing.T) {
	db := newTestDB(t)
	total := CycleLogLimit + 25
	for i := 0; i < total; i++ {
		err := db.AppendCycle(domain.CycleLogEntry{
			CycleID:  fmt.Sprintf("c%d", i),
			Time:     time.Now(),
			Status:   domain.StatusStable,
			TotalRAM: float64(i),
			Line:     fmt.Sprintf("line %d", i),
		})
		if err != nil {
			t.Fatalf("AppendCycle(%d) error: %v", i, err)
		}
	}

	got, err := db.RecentCycles(0)
	if err != nil {
		t.Fatalf("RecentCycles() error: %v", err)
	}
	if len(got) != CycleLogLimit {
		t.Fatalf("len = %d, want %d", len(got), CycleLogLimit)
	}
	if got[0].CycleID != "c25" {
		t.Errorf("oldest = %s, want c25", got[0].CycleID)
	}
	if last := got[len(got)-1]; last.CycleID != fmt.Sprintf("c%d", total-1) {
		t.Errorf("newest = %s", last.CycleID)
	}
}

func TestRecentCycles_LimitOldestFirst(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 5; i++ {
		db.AppendCycle(domain.CycleLogEntry{CycleID: fmt.Sprintf("c%d", i), Time: time.Now(), Status: domain.StatusOverload})
	}

	got, _ := db.RecentCycles(2)
	if len(got) != 2 || got[0].CycleID != "c3" || got[1].CycleID != "c4" {
		t.Errorf("RecentCycles(2) = %+v", got)
	}
	if got[0].Status != domain.StatusOverload {
		t.Errorf("status = %q", got[0].Status)
	}
}

func TestLastCycle(t *testing.T) {
	db := newTestDB(t)

	e, err := db.LastCycle()
	if err != nil || e != nil {
		t.Fatalf("LastCycle(empty) = %v, %v", e, err)
	}

	db.AppendCycle(domain.CycleLogEntry{CycleID: "a", Time: time.Now(), Status: domain.StatusStable})
	db.AppendCycle(domain.CycleLogEntry{CycleID: "b", Time: time.Now(), Status: domain.StatusNearLimit})

	e, err = db.LastCycle()
	if err != nil || e == nil || e.CycleID != "b" {
		t.Errorf("LastCycle() = %+v, %v", e, err)
	}
}

func TestReset(t *testing.T) {
	db := newTestDB(t)
	db.SetMeta("k", "v")
	db.RecordResolved([]domain.ResolvedRecord{{PID: 1, Action: domain.ActionKill}})
	db.AppendCycle(domain.CycleLogEntry{CycleID: "a", Time: time.Now()})

	if err := db.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if r, _ := db.RecentResolved(10); len(r) != 0 {
		t.Error("resolved_tasks not cleared")
	}
	if c, _ := db.RecentCycles(10); len(c) != 0 {
		t.Error("cycle_log not cleared")
	}
	if v, _ := db.GetMeta("k"); v != "" {
		t.Error("meta not cleared")
	}
}
