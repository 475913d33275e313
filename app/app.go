// Package app is the session manager: it owns every open session (tab),
// imports files and directories into them, merges them, and dispatches
// queries, analytics and annotation changes to the right session.
package app

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"casefile/app/analytics"
	"casefile/app/cache"
	"casefile/app/fileloader"
	"casefile/app/plugin"
	"casefile/app/query"
	"casefile/app/settings"
	"casefile/app/store"
	"casefile/app/timestamps"

	"github.com/google/uuid"
)

var (
	// ErrTabNotFound is returned by mutating calls on an unknown tab.
	ErrTabNotFound = errors.New("tab not found")
	// ErrSessionMismatch is returned when saved annotations belong to a different file.
	ErrSessionMismatch = errors.New("session state belongs to a different file")
	// ErrDuplicateTab is returned when a merge names the same tab twice.
	ErrDuplicateTab = errors.New("tab listed more than once")
)

// App owns the tab arena. Tabs are isolated: each has its own store file
// and connection.
type App struct {
	settings settings.Settings
	logger   Logger
	plugins  *plugin.Registry

	tabsMu  sync.RWMutex
	tabs    map[string]*fileTab // keyed by tab ID
	nextSeq atomic.Int64
}

// NewApp validates s and loads its plugins. A nil logger gets a slog
// logger configured from s. Plugins that fail to load are logged and
// skipped.
func NewApp(s settings.Settings, logger Logger) (*App, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NewLogger(nil, s.LogFormat, s.LogLevel)
	}
	a := &App{
		settings: s,
		logger:   logger,
		plugins:  plugin.NewRegistry(),
		tabs:     make(map[string]*fileTab),
	}
	if err := a.plugins.Load(s.Plugins); err != nil {
		a.Log("warn", fmt.Sprintf("[PLUGIN] %v", err))
	}
	if exts := a.plugins.Extensions(); len(exts) > 0 {
		a.Log("debug", fmt.Sprintf("[PLUGIN] converters registered for %s", strings.Join(exts, ", ")))
	}
	return a, nil
}

// Log writes one message through the configured logger.
func (a *App) Log(level, message string) {
	if a == nil || a.logger == nil {
		return
	}
	a.logger.Log(level, message)
}

// Settings returns the settings the app was created with.
func (a *App) Settings() settings.Settings {
	return a.settings
}

// Plugins returns the converter registry.
func (a *App) Plugins() *plugin.Registry {
	return a.plugins
}

// Close closes every open tab.
func (a *App) Close() {
	a.tabsMu.Lock()
	tabs := make([]*fileTab, 0, len(a.tabs))
	for _, t := range a.tabs {
		tabs = append(tabs, t)
	}
	a.tabs = make(map[string]*fileTab)
	a.tabsMu.Unlock()

	for _, t := range tabs {
		t.close()
	}
	if len(tabs) > 0 {
		a.Log("info", fmt.Sprintf("[CLOSE] Closed %d tabs", len(tabs)))
	}
}

func (a *App) tab(tabID string) (*fileTab, bool) {
	a.tabsMu.RLock()
	defer a.tabsMu.RUnlock()
	t, ok := a.tabs[tabID]
	return t, ok
}

// mustTab is the lookup used by mutating calls.
func (a *App) mustTab(tabID string) (*fileTab, error) {
	t, ok := a.tab(tabID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}
	return t, nil
}

func (a *App) register(t *fileTab) {
	t.ID = uuid.NewString()
	t.seq = a.nextSeq.Add(1)
	a.tabsMu.Lock()
	a.tabs[t.ID] = t
	a.tabsMu.Unlock()
}

// orderedTabs returns the open tabs in open order.
func (a *App) orderedTabs() []*fileTab {
	a.tabsMu.RLock()
	out := make([]*fileTab, 0, len(a.tabs))
	for _, t := range a.tabs {
		out = append(out, t)
	}
	a.tabsMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (a *App) storeOptions() store.Options {
	return store.OptionsFromSettings(a.settings, a)
}

func (a *App) loaderOptions() fileloader.Options {
	return fileloader.OptionsFromSettings(a.settings, a.plugins, a)
}

func (a *App) analyticsOptions() analytics.Options {
	return analytics.OptionsFromSettings(a.settings)
}

// newEngine binds a query engine with its own count cache to st. Relative
// date filters resolve in the tab's ingest zone.
func (a *App) newEngine(st *store.Store, tz string) *query.Engine {
	eng := query.NewEngine(st, cache.NewCountCache(a.settings.CountCacheEntries, a), a)
	eng.SetLocation(a.location(tz))
	return eng
}

func (a *App) location(tz string) *time.Location {
	if tz == "" {
		tz = a.settings.DefaultIngestTimezone
	}
	return timestamps.GetLocationForTZ(tz)
}
