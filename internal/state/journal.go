package state

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Run is one observed agent stream.
type Run struct {
	ID        string
	CreatedAt time.Time
	AgentAddr string
	PID       int64
}

// JournalEntry is one recorded event. Args holds the JSON form of the
// event arguments.
type JournalEntry struct {
	ID        int64
	RunID     string
	Seq       int64
	Name      string
	Args      string
	CreatedAt time.Time
}

func genID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (db *DB) CreateRun(ctx context.Context, agentAddr string) (*Run, error) {
	id := genID()
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx, "INSERT INTO runs (id, created_at, agent_addr, pid) VALUES (?, ?, ?, 0)", id, now, agentAddr)
	if err != nil {
		return nil, err
	}
	return &Run{ID: id, CreatedAt: now, AgentAddr: agentAddr}, nil
}

func (db *DB) SetRunPID(ctx context.Context, runID string, pid int64) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE runs SET pid = ? WHERE id = ?", pid, runID)
	return err
}

func (db *DB) AppendEvent(ctx context.Context, runID string, seq int64, name, args string) error {
	_, err := db.conn.ExecContext(ctx, "INSERT INTO events (run_id, seq, name, args, created_at) VALUES (?, ?, ?, ?, ?)",
		runID, seq, name, args, time.Now().UTC())
	return err
}

func (db *DB) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id, created_at, agent_addr, pid FROM runs ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.AgentAddr, &r.PID); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (db *DB) ListEvents(ctx context.Context, runID string) ([]JournalEntry, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id, run_id, seq, name, args, created_at FROM events WHERE run_id = ? ORDER BY seq ASC", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.Name, &e.Args, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
