package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/magiconair/properties"
)

// Properties is a Store backed by a Java-style .properties file, the format
// external test tooling already uses for this hand-off. Keys written by
// other tools are kept on every write.
type Properties struct {
	path string
	mu   sync.Mutex
}

func NewProperties(path string) *Properties {
	return &Properties{path: filepath.Clean(path)}
}

func (p *Properties) Path() string { return p.path }

func (p *Properties) load() (*properties.Properties, error) {
	l := &properties.Loader{
		Encoding:         properties.UTF8,
		DisableExpansion: true,
		IgnoreMissing:    true,
	}
	props, err := l.LoadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", p.path, err)
	}
	props.DisableExpansion = true
	return props, nil
}

func (p *Properties) Get(_ context.Context, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	props, err := p.load()
	if err != nil {
		return "", err
	}
	v, ok := props.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (p *Properties) Set(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	props, err := p.load()
	if err != nil {
		return err
	}
	if _, _, err := props.Set(key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return p.write(props)
}

// write replaces the file through a rename so readers in other processes
// never observe a truncated file.
func (p *Properties) write(props *properties.Properties) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := props.Write(tmp, properties.UTF8); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", p.path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}

func (p *Properties) Close() error { return nil }

// Watch signals on the returned channel whenever the file is created or
// rewritten, by this or any other process. The parent directory is watched
// because writers replace the file by rename. The channel is closed when ctx
// is done.
func (p *Properties) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	changes := make(chan struct{}, 1)
	go func() {
		defer close(changes)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != p.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					select {
					case changes <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return changes, nil
}
