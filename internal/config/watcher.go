package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/opsagent/orchestrator/internal/plan"
)

// ChangeEvent describes a catalog reload.
type ChangeEvent struct {
	File       string
	Action     string // create, modify
	Responders int
	Timestamp  time.Time
}

// ChangeHandler is called after the catalog has been replaced.
type ChangeHandler func(event ChangeEvent) error

// CatalogWatcher reloads a catalog in place when its file changes. A file
// that fails to parse leaves the current catalog untouched.
type CatalogWatcher struct {
	path    string
	catalog *plan.Catalog
	logger  *zap.Logger

	mu       sync.Mutex
	handlers []ChangeHandler
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCatalogWatcher prepares a watcher for path feeding catalog.
func NewCatalogWatcher(path string, catalog *plan.Catalog, logger *zap.Logger) *CatalogWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogWatcher{path: filepath.Clean(path), catalog: catalog, logger: logger}
}

// RegisterHandler adds a callback run after each successful reload.
func (w *CatalogWatcher) RegisterHandler(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start watches the catalog's directory so editor rename-and-replace saves
// are seen.
func (w *CatalogWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.watchLoop(fw, w.stopCh, w.done)

	w.logger.Info("Catalog watcher started", zap.String("path", w.path))
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (w *CatalogWatcher) Stop() {
	w.mu.Lock()
	fw, stop, done := w.watcher, w.stopCh, w.done
	w.watcher = nil
	w.mu.Unlock()
	if fw == nil {
		return
	}
	close(stop)
	if err := fw.Close(); err != nil {
		w.logger.Error("Error closing file watcher", zap.Error(err))
	}
	<-done
}

func (w *CatalogWatcher) watchLoop(fw *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				w.reload("create")
			case event.Has(fsnotify.Write):
				w.reload("modify")
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *CatalogWatcher) reload(action string) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("Catalog reload failed", zap.String("path", w.path), zap.Error(err))
		return err
	}
	responders, err := ParseCatalog(data)
	if err != nil {
		w.logger.Warn("Catalog reload rejected", zap.String("path", w.path), zap.Error(err))
		return err
	}
	w.catalog.Replace(responders)

	ev := ChangeEvent{File: w.path, Action: action, Responders: len(responders), Timestamp: time.Now()}
	w.logger.Info("Catalog reloaded", zap.String("action", action), zap.Int("responders", len(responders)))

	w.mu.Lock()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()
	for _, h := range handlers {
		if err := h(ev); err != nil {
			w.logger.Error("Catalog change handler failed", zap.Error(err))
		}
	}
	return nil
}
