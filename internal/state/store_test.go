package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, KeyDebuggerState)
	require.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

	v, err := GetOr(ctx, s, KeyDebuggerState, "running")
	require.NoError(t, err)
	assert.Equal(t, "running", v)

	require.NoError(t, s.Set(ctx, KeyDebuggerState, "pause"))
	require.NoError(t, s.Set(ctx, KeyDebuggerState, "step_over"))
	v, err = s.Get(ctx, KeyDebuggerState)
	require.NoError(t, err)
	assert.Equal(t, "step_over", v)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemory())
}

func TestDBStore(t *testing.T) {
	t.Parallel()

	db, err := Connect(":memory:")
	require.NoError(t, err)
	defer db.Close()

	exerciseStore(t, db)

	props, err := db.Properties(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{KeyDebuggerState: "step_over"}, props)
}

func TestPropertiesStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "listenerLog0.properties")
	exerciseStore(t, NewProperties(path))
}

func TestPropertiesStoreKeepsForeignKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "listenerLog0.properties")
	require.NoError(t, os.WriteFile(path, []byte("onHold=false\nlastKeyword=Open Browser\ndata=running\n"), 0644))

	s := NewProperties(path)
	require.NoError(t, s.Set(context.Background(), KeyDebuggerState, "pause"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "onHold")
	assert.Contains(t, text, "Open Browser")

	v, err := s.Get(context.Background(), KeyDebuggerState)
	require.NoError(t, err)
	assert.Equal(t, "pause", v)

	kw, err := s.Get(context.Background(), KeyLastKeyword)
	require.NoError(t, err)
	assert.Equal(t, "Open Browser", kw)
}

func TestPropertiesValuesAreNotExpanded(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.properties")
	s := NewProperties(path)
	require.NoError(t, s.Set(context.Background(), KeyLastKeyword, "Log ${message}"))

	v, err := s.Get(context.Background(), KeyLastKeyword)
	require.NoError(t, err)
	assert.Equal(t, "Log ${message}", v)
}

func TestPropertiesWatchReportsExternalWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.properties")
	s := NewProperties(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := s.Watch(ctx)
	require.NoError(t, err)

	other := NewProperties(path)
	require.NoError(t, other.Set(context.Background(), KeyDebuggerState, "resume"))

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("expected change notification")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	s, err := Open("", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(BackendSQLite, " ")
	assert.True(t, errors.Is(err, ErrMissingPath))

	_, err = Open(BackendProperties, "")
	assert.True(t, errors.Is(err, ErrMissingPath))

	_, err = Open("redis", "x")
	assert.True(t, errors.Is(err, ErrUnknownBackend))

	s, err = Open(strings.ToUpper(BackendProperties), filepath.Join(t.TempDir(), "a.properties"))
	require.NoError(t, err)
	assert.IsType(t, &Properties{}, s)
}
