package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObserverArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		args     []string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "defaults", args: nil, wantHost: "localhost", wantPort: 5007},
		{name: "port only", args: []string{"6000"}, wantHost: "localhost", wantPort: 6000},
		{name: "host and port", args: []string{"10.0.0.5", "7000"}, wantHost: "10.0.0.5", wantPort: 7000},
		{name: "extra values ignored", args: []string{"ci-box", "7001", "verbose"}, wantHost: "ci-box", wantPort: 7001},
		{name: "bad port", args: []string{"http"}, wantErr: true},
		{name: "port out of range", args: []string{"host", "70000"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := ParseObserverArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestApplyObserverArgs(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Observer.Host = "observer.internal"
	require.NoError(t, cfg.ApplyObserverArgs([]string{"9000"}))
	assert.Equal(t, "observer.internal:9000", cfg.ObserverAddr())

	require.NoError(t, cfg.ApplyObserverArgs([]string{"127.0.0.1", "9001"}))
	assert.Equal(t, "127.0.0.1:9001", cfg.ObserverAddr())

	require.NoError(t, cfg.ApplyObserverArgs(nil))
	assert.Equal(t, "127.0.0.1:9001", cfg.ObserverAddr())
}

func TestControlAddrIsEphemeral(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, ":0", cfg.ControlAddr())
	cfg.Control.Host = "127.0.0.1"
	assert.Equal(t, "127.0.0.1:0", cfg.ControlAddr())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.State.Backend = "properties"
	assert.True(t, errors.Is(cfg.Validate(), ErrMissingStatePath))

	cfg.State.Path = "/tmp/listenerLog0.properties"
	assert.NoError(t, cfg.Validate())

	cfg.State.Backend = "SQLite"
	cfg.State.Path = ""
	assert.True(t, errors.Is(cfg.Validate(), ErrMissingStatePath))

	cfg.State.Backend = "etcd"
	assert.True(t, errors.Is(cfg.Validate(), ErrUnknownBackend))
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[observer]
host = "ride.local"
port = 6100

[state]
backend = "properties"
path = "/var/run/agent/listenerLog0.properties"

[debugger]
poll_interval = "250ms"
breakpoints = ["Debug Here"]

[log]
threshold = "DEBUG"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ride.local:6100", cfg.ObserverAddr())
	assert.Equal(t, "properties", cfg.State.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Debugger.PollInterval)
	assert.Equal(t, []string{"Debug Here"}, cfg.Debugger.Breakpoints)
	assert.Equal(t, "DEBUG", cfg.Log.Threshold)
	assert.False(t, cfg.Log.Redact, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.Observer.SendTimeout)
}

func TestSaveFileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.State.Backend = "sqlite"
	cfg.State.Path = "agent.db"
	require.NoError(t, cfg.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestFormViewShowsObserver(t *testing.T) {
	t.Parallel()

	cfg := Default()
	view := NewFormModel(cfg, "/home/user/.config/runneragent/config.toml").View()
	assert.Contains(t, view, "localhost:5007")
	assert.Contains(t, view, "(built-in only)")
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestFormEditsAndSaves(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	form := NewFormModel(Default(), path)

	form.Update(key("r"))
	form.Update(key("t"))
	assert.Contains(t, form.View(), "Configuration *")
	assert.Contains(t, form.View(), "Threshold: WARN")

	form.Update(key("s"))
	assert.Contains(t, form.View(), "saved "+path)

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, loaded.Log.Redact)
	assert.Equal(t, "WARN", loaded.Log.Threshold)

	_, cmd := form.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestFormRefusesInvalidSave(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.State.Backend = "sqlite"
	path := filepath.Join(t.TempDir(), "config.toml")
	form := NewFormModel(cfg, path)

	form.Update(key("s"))
	assert.Contains(t, form.View(), "state path is required")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNextThresholdWraps(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "TRACE", nextThreshold("NONE"))
	assert.Equal(t, "TRACE", nextThreshold("bogus"))
	assert.Equal(t, "DEBUG", nextThreshold("trace"))
}
