package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRecordsEventsInOrder(t *testing.T) {
	t.Parallel()

	db, err := Connect(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	run, err := db.CreateRun(ctx, "127.0.0.1:40000")
	require.NoError(t, err)
	require.NoError(t, db.SetRunPID(ctx, run.ID, 777))

	names := []string{"pid", "port", "start_suite", "end_suite", "close"}
	for i, name := range names {
		require.NoError(t, db.AppendEvent(ctx, run.ID, int64(i), name, "[]"))
	}

	runs, err := db.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.EqualValues(t, 777, runs[0].PID)

	entries, err := db.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, entries, len(names))
	for i, e := range entries {
		assert.Equal(t, names[i], e.Name)
		assert.EqualValues(t, i, e.Seq)
	}
}
