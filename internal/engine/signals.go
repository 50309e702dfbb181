package engine

import (
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Signal file names recognized in the watched directory.
const (
	signalPause  = "pause"
	signalResume = "resume"
	signalCancel = "cancel"
)

// SignalWatcher lets an external process control a running engine by
// creating files named pause, resume, or cancel in a signals directory.
type SignalWatcher struct {
	dir     string
	engine  *Engine
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchSignals creates the signals directory, applies any signal files
// already present, and starts watching for new ones.
func WatchSignals(dir string, e *Engine) (*SignalWatcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	sw := &SignalWatcher{
		dir:    dir,
		engine: e,
		done:   make(chan struct{}),
	}

	// A pause or cancel file left from a previous run still applies.
	for _, name := range []string{signalPause, signalCancel} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			sw.apply(name)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	sw.watcher = watcher

	go sw.watch()
	return sw, nil
}

// watch applies signals as their files are created or written.
func (sw *SignalWatcher) watch() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0 {
				sw.apply(filepath.Base(event.Name))
			}
		case <-sw.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

func (sw *SignalWatcher) apply(name string) {
	switch name {
	case signalPause:
		log.Printf("[signals] pause signal received")
		sw.engine.Pause()
	case signalResume:
		log.Printf("[signals] resume signal received")
		sw.engine.Resume()
		os.Remove(filepath.Join(sw.dir, signalPause))
		os.Remove(filepath.Join(sw.dir, signalResume))
	case signalCancel:
		log.Printf("[signals] cancel signal received")
		sw.engine.Cancel()
	}
}

// Dir returns the watched signals directory.
func (sw *SignalWatcher) Dir() string {
	return sw.dir
}

// ClearSignals removes all signal files.
func (sw *SignalWatcher) ClearSignals() {
	for _, name := range []string{signalPause, signalResume, signalCancel} {
		os.Remove(filepath.Join(sw.dir, name))
	}
}

// Close stops the watcher.
func (sw *SignalWatcher) Close() {
	close(sw.done)
	if sw.watcher != nil {
		sw.watcher.Close()
	}
}
