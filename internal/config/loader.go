package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 100 * time.Millisecond

// Loader loads the config file and reloads it when it changes.
type Loader struct {
	path     string
	defaults *Config
	logger   *zap.Logger

	mu       sync.RWMutex
	config   *Config
	onChange []func(*Config)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	errCh   chan error
}

// NewLoader creates a loader for path. Values missing from the file keep defaults.
func NewLoader(path string, defaults *Config, logger *zap.Logger) *Loader {
	if defaults == nil {
		defaults = Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		path:     path,
		defaults: defaults,
		logger:   logger,
		errCh:    make(chan error, 1),
	}
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, overrides from the environment and validates the configuration.
// A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the last successfully loaded configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback run after every successful reload.
func (l *Loader) OnChange(cb func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Errors delivers reload failures. The previous configuration stays in effect.
func (l *Loader) Errors() <-chan error {
	return l.errCh
}

// Watch starts reloading on writes to the config file until ctx ends or Close.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// The directory is watched so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l.watcher = watcher
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.watchLoop(ctx)

	l.logger.Debug("watching config file", zap.String("path", l.path))
	return nil
}

// Close stops watching.
func (l *Loader) Close() error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	err := l.watcher.Close()
	<-l.done
	return err
}

func (l *Loader) watchLoop(ctx context.Context) {
	defer close(l.done)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) reload() {
	cfg, err := l.read()
	if err != nil {
		l.logger.Warn("config reload rejected, keeping previous", zap.Error(err))
		l.report(err)
		return
	}

	l.mu.Lock()
	l.config = cfg
	callbacks := append([]func(*Config){}, l.onChange...)
	l.mu.Unlock()

	l.logger.Info("config reloaded", zap.String("path", l.path))
	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errCh <- err:
	default:
	}
}

func (l *Loader) read() (*Config, error) {
	cfg, err := decodeFile(l.path, l.defaults)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile overlays the file at path onto a copy of defaults. The format is
// chosen by extension: .toml, or YAML for anything else.
func decodeFile(path string, defaults *Config) (*Config, error) {
	cfg := defaults.clone()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	}

	// A file that moves data_dir without naming the other paths moves them too.
	if cfg.DataDir != defaults.DataDir {
		dir := cfg.DataDir
		if cfg.JournalPath == defaults.JournalPath {
			cfg.JournalPath = rebase(cfg.JournalPath, defaults.DataDir, dir)
		}
		if cfg.LogFile == defaults.LogFile {
			cfg.LogFile = rebase(cfg.LogFile, defaults.DataDir, dir)
		}
	}
	return cfg, nil
}

func (c *Config) clone() *Config {
	out := *c
	out.AppDirs = append([]string(nil), c.AppDirs...)
	return &out
}
