package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Loader handles configuration loading, watching, and hot-reloading.
type Loader struct {
	path     string
	config   *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(old, new *Config)
	debounce time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
	done     chan struct{}
}

// NewLoader creates a new configuration loader.
func NewLoader(path string) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:     path,
		debounce: 100 * time.Millisecond,
		errChan:  make(chan error, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Path returns the watched file.
func (l *Loader) Path() string { return l.path }

// Load reads, overrides and validates the configuration file.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback invoked after a successful reload with the
// previous and the new configuration. Register before Watch.
func (l *Loader) OnChange(cb func(old, new *Config)) {
	l.onChange = append(l.onChange, cb)
}

// Errors returns a channel for errors that occur while watching. Errors
// are dropped when nobody reads them.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Watch starts watching the configuration file. The directory is watched
// so editors that replace the file are handled.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = watcher
	l.done = make(chan struct{})

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	defer close(l.done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(l.debounce, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// reload keeps the current configuration when the new file does not load.
func (l *Loader) reload() {
	if l.ctx.Err() != nil {
		return
	}
	newCfg, err := Load(l.path)
	if err != nil {
		l.report(fmt.Errorf("reload config: %w", err))
		return
	}

	l.mu.Lock()
	oldCfg := l.config
	l.config = newCfg
	l.mu.Unlock()

	for _, cb := range l.onChange {
		cb(oldCfg, newCfg)
	}
}

// Close stops the watcher and releases resources.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	<-l.done
	return err
}

// LoadOrCreate loads path, first writing the defaults there if the file
// does not exist. The boolean reports whether the file was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		return cfg, true, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// SaveConfig writes cfg to path in the format given by its extension.
func SaveConfig(cfg *Config, path string) error {
	data, err := encode(cfg, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Diff lists the settings that differ between two configurations as
// "field: old -> new". Personalization values are not shown.
func Diff(old, new *Config) []string {
	if old == nil || new == nil {
		return nil
	}
	var out []string
	add := func(field string, a, b any) {
		as, bs := fmt.Sprint(a), fmt.Sprint(b)
		if as != bs {
			out = append(out, fmt.Sprintf("%s: %s -> %s", field, as, bs))
		}
	}
	add("drbg.type", old.DRBG.Type, new.DRBG.Type)
	add("drbg.use_hmac", old.DRBG.UseHMAC, new.DRBG.UseHMAC)
	add("drbg.no_df", old.DRBG.NoDF, new.DRBG.NoDF)
	if old.DRBG.Personalization != new.DRBG.Personalization {
		out = append(out, "drbg.personalization: changed")
	}
	add("reseed.master_interval", old.Reseed.MasterInterval, new.Reseed.MasterInterval)
	add("reseed.child_interval", old.Reseed.ChildInterval, new.Reseed.ChildInterval)
	add("reseed.master_time_sec", old.Reseed.MasterTimeSec, new.Reseed.MasterTimeSec)
	add("reseed.child_time_sec", old.Reseed.ChildTimeSec, new.Reseed.ChildTimeSec)
	add("entropy.sources", old.Entropy.Sources, new.Entropy.Sources)
	add("entropy.tpm_path", old.Entropy.TPMPath, new.Entropy.TPMPath)
	add("entropy.jitter_rounds", old.Entropy.JitterRounds, new.Entropy.JitterRounds)
	add("logging.level", old.Logging.Level, new.Logging.Level)
	add("trace.categories", old.Trace.Categories, new.Trace.Categories)
	add("metrics.enabled", old.Metrics.Enabled, new.Metrics.Enabled)
	return out
}
