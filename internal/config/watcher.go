package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchTargets holds callbacks that fire when a specific persisted file
// changes on disk. The running proxy wires these at startup so that edits
// made through the REST control surface (or by hand) take effect without a
// restart, keeping with the "writers swap the compiled cache atomically"
// discipline.
type WatchTargets struct {
	// OnConfigChange fires when config.json changes (the Toggles file).
	OnConfigChange func()
	// OnEditRulesChange fires when edit-rules.json changes.
	OnEditRulesChange func()
	// OnBlockRulesChange fires when block-rules.json changes.
	OnBlockRulesChange func()
	// OnFilterRulesChange fires when filter-rules.json changes.
	OnFilterRulesChange func()
	// OnResourcesChange fires when resources.json changes.
	OnResourcesChange func()
}

// Watcher monitors the relayforge storage directory for file changes using
// fsnotify and dispatches to the matching WatchTargets callback by filename.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher watches dir for writes/creates of the persisted rule/config
// files. Events are not debounced: every write or create event for a
// watched file runs its callback, so rapid successive writes can trigger
// several reloads.
func NewWatcher(dir string, targets WatchTargets) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fw,
		done:      make(chan struct{}),
	}

	go w.processEvents(targets)

	slog.Info("file watcher started", "dir", dir)
	return w, nil
}

func (w *Watcher) processEvents(targets WatchTargets) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			name := filepath.Base(event.Name)
			switch name {
			case "config.json":
				slog.Info("config.json changed, reloading toggles")
				if targets.OnConfigChange != nil {
					targets.OnConfigChange()
				}
			case "edit-rules.json":
				slog.Info("edit-rules.json changed, reloading rule store")
				if targets.OnEditRulesChange != nil {
					targets.OnEditRulesChange()
				}
			case "block-rules.json":
				slog.Info("block-rules.json changed, reloading rule store")
				if targets.OnBlockRulesChange != nil {
					targets.OnBlockRulesChange()
				}
			case "filter-rules.json":
				slog.Info("filter-rules.json changed, reloading rule store")
				if targets.OnFilterRulesChange != nil {
					targets.OnFilterRulesChange()
				}
			case "resources.json":
				slog.Info("resources.json changed, reloading rule store")
				if targets.OnResourcesChange != nil {
					targets.OnResourcesChange()
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("file watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
