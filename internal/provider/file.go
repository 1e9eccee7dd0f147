package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/l0p7/authgate/internal/policy"
)

// DefaultCookieName is used when the configuration omits cookie_name.
const DefaultCookieName = "session"

// fileDocument is the on-disk shape. Unknown fields are tolerated so a
// document can carry operator annotations.
type fileDocument struct {
	SessionURL    string            `json:"session_url"`
	LoginRedirect string            `json:"login_redirect"`
	CookieName    string            `json:"cookie_name"`
	Routes        []policy.RouteDef `json:"routes"`
}

// File serves configuration from a JSON document and hot-reloads it when
// the file changes. Routes carry no ids, so the management operations are
// unsupported.
type File struct {
	path     string
	logger   *slog.Logger
	snapshot atomic.Pointer[Snapshot]

	watchCancel context.CancelFunc
	watchDone   chan struct{}
	closeOnce   sync.Once
}

// NewFile loads the document at path. An unreadable or invalid document is
// a startup failure; reload failures later on keep the last good snapshot.
func NewFile(logger *slog.Logger, path string) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("provider: resolve config path: %w", err)
	}
	f := &File{
		path:   filepath.Clean(resolved),
		logger: logger.With(slog.String("agent", "config_file")),
	}
	snap, err := loadFileSnapshot(f.path)
	if err != nil {
		return nil, err
	}
	f.snapshot.Store(snap)
	return f, nil
}

func loadFileSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("provider: read config file: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("provider: parse config file: %w", err)
	}
	return buildSnapshot(doc.SessionURL, doc.LoginRedirect, doc.CookieName, doc.Routes)
}

// buildSnapshot validates the raw configuration fields shared by the file
// and database backends.
func buildSnapshot(sessionURL, loginRedirect, cookieName string, routes []policy.RouteDef) (*Snapshot, error) {
	if err := validateURL("session_url", sessionURL); err != nil {
		return nil, err
	}
	if err := validateURL("login_redirect", loginRedirect); err != nil {
		return nil, err
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	for i, route := range routes {
		if err := route.Validate(); err != nil {
			return nil, fmt.Errorf("provider: route %d: %w", i, err)
		}
	}
	return &Snapshot{
		SessionURL:    sessionURL,
		LoginRedirect: loginRedirect,
		CookieName:    cookieName,
		Routes:        routes,
	}, nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("provider: %s is required", field)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("provider: %s: %w", field, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("provider: %s must be an absolute url", field)
	}
	return nil
}

// Current returns the live snapshot.
func (f *File) Current(context.Context) (*Snapshot, error) {
	return f.snapshot.Load(), nil
}

// ListRoutes returns the routes of the live snapshot.
func (f *File) ListRoutes(context.Context) ([]policy.RouteDef, error) {
	return f.snapshot.Load().Routes, nil
}

// GetRoute always fails: file routes carry no ids.
func (f *File) GetRoute(context.Context, string) (policy.RouteDef, error) {
	return policy.RouteDef{}, ErrNotFound
}

func (f *File) CreateRoute(context.Context, policy.RouteDef) (policy.RouteDef, error) {
	return policy.RouteDef{}, ErrNotSupported
}

func (f *File) UpdateRoute(context.Context, policy.RouteDef) (policy.RouteDef, error) {
	return policy.RouteDef{}, ErrNotSupported
}

func (f *File) DeleteRoute(context.Context, string) error {
	return ErrNotSupported
}

// Watch monitors the document's directory and swaps the snapshot when the
// file changes. Editors that replace the file via rename are covered by
// watching the directory rather than the file itself.
func (f *File) Watch(ctx context.Context) error {
	if f.watchDone != nil {
		return fmt.Errorf("provider: watch already started")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("provider: watch config: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("provider: watch %s: %w", filepath.Dir(f.path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	f.watchCancel = cancel
	f.watchDone = done

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil {
				f.logger.Warn("config watcher close failed", slog.Any("error", err))
			}
		}()

		reload := func() {
			snap, err := loadFileSnapshot(f.path)
			if err != nil {
				// Keep serving the previous snapshot.
				f.logger.Error("config reload failed", slog.String("path", f.path), slog.Any("error", err))
				return
			}
			f.snapshot.Store(snap)
			f.logger.Info("configuration reloaded", slog.String("path", f.path), slog.Int("routes", len(snap.Routes)))
		}

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				reloadSignal = nil
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != f.path {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					f.logger.Warn("config file removed", slog.String("path", f.path))
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Warn("config watch error", slog.Any("error", err))
			}
		}
	}()
	return nil
}

// Close stops the watcher, if started, and waits for it to exit.
func (f *File) Close(context.Context) error {
	f.closeOnce.Do(func() {
		if f.watchCancel != nil {
			f.watchCancel()
			<-f.watchDone
		}
	})
	return nil
}
