// Package config loads and monitors the daemon configuration.
//
// The configuration lives in a single JSON file. It is reloaded when
// the file changes on disk; a malformed file is logged and ignored,
// keeping whatever was loaded before.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/netdrift/l3domain/log"
)

// DefaultPath is where the daemon looks for its configuration when no
// path is given.
const DefaultPath = "/etc/l3domaind/config.json"

// Config are the daemon settings read from disk.
type Config struct {
	// LogLevel is one of the log package levels; nil keeps the
	// current level.
	LogLevel *int `json:"LogLevel"`
	LogUTC   bool `json:"LogUTC"`
	LogMicro bool `json:"LogMicro"`

	// NetNS is the name of the network namespace to watch, empty for
	// the current one.
	NetNS string `json:"NetNS"`

	// ResyncIntervalSeconds is how often the device snapshot is
	// rebuilt from a full dump; zero keeps the built-in default.
	ResyncIntervalSeconds int `json:"ResyncIntervalSeconds"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{LogUTC: true}
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Apply pushes the logging part of the configuration to the log
// package.
func (c *Config) Apply() {
	if c.LogLevel != nil {
		log.SetLogLevel(*c.LogLevel)
	}
	log.SetLogUTC(c.LogUTC)
	log.SetLogMicro(c.LogMicro)
}

// Watcher reloads the configuration file whenever it changes and hands
// the result to a callback.
type Watcher struct {
	sync.Mutex

	file     string
	watcher  *fsnotify.Watcher
	exitChan chan bool
	reload   func(*Config)
}

// NewWatcher builds a watcher for the configuration at file. reload is
// invoked with every successfully parsed version of the file.
func NewWatcher(file string, reload func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}

	w := &Watcher{
		file:     file,
		watcher:  fsWatcher,
		exitChan: make(chan bool, 1),
		reload:   reload,
	}
	if err := fsWatcher.Add(file); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("config: watching %s: %w", file, err)
	}

	go w.monitor()
	return w, nil
}

// Stop stops watching the configuration file.
func (w *Watcher) Stop() {
	w.Lock()
	defer w.Unlock()

	if w.exitChan != nil {
		w.exitChan <- true
		close(w.exitChan)
		w.exitChan = nil
	}
	if w.watcher != nil {
		w.watcher.Remove(w.file)
		w.watcher.Close()
	}
}

func (w *Watcher) monitor() {
	for {
		select {
		case <-w.exitChan:
			log.Debug("config: stop monitoring %s", w.file)
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove) == 0 {
				continue
			}
			// editors replace the file instead of writing in place,
			// so the watch has to be re-added after a remove
			if event.Op&fsnotify.Remove != 0 {
				w.watcher.Remove(w.file)
				if err := w.watcher.Add(w.file); err != nil {
					log.Warning("config: %s went away: %s", w.file, err)
					continue
				}
			}

			cfg, err := Load(w.file)
			if err != nil {
				log.Error("config: reload ignored: %s", err)
				continue
			}
			log.Info("config: %s reloaded", w.file)
			w.reload(cfg)
		}
	}
}
