package observer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yubzen/runneragent/internal/state"
	"github.com/yubzen/runneragent/internal/wire"
)

// Recorder journals every event of one session into a SQLite database.
type Recorder struct {
	db  *state.DB
	run *state.Run
	seq int64
}

func NewRecorder(ctx context.Context, db *state.DB, agentAddr string) (*Recorder, error) {
	run, err := db.CreateRun(ctx, agentAddr)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &Recorder{db: db, run: run}, nil
}

func (r *Recorder) RunID() string { return r.run.ID }

// Record appends ev. Arguments are stored as JSON.
func (r *Recorder) Record(ctx context.Context, ev wire.Event) error {
	args := ev.Args
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s args: %w", ev.Name, err)
	}
	r.seq++
	if err := r.db.AppendEvent(ctx, r.run.ID, r.seq, ev.Name, string(data)); err != nil {
		return fmt.Errorf("append %s: %w", ev.Name, err)
	}
	if ev.Name == wire.EventPID {
		if pid, ok := toInt64(ev.Arg(0)); ok {
			if err := r.db.SetRunPID(ctx, r.run.ID, pid); err != nil {
				return fmt.Errorf("set run pid: %w", err)
			}
		}
	}
	return nil
}
