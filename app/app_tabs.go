package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"casefile/app/fileloader"
	"casefile/app/interfaces"
	"casefile/app/store"
	"casefile/app/timestamps"

	"golang.org/x/sync/errgroup"
)

// DefaultDirectoryPattern is used when a directory import names no pattern.
const DefaultDirectoryPattern = "**/*"

// OpenFile imports a file into a new tab. A directory path is imported
// with OpenDirectory. On failure the partially built session is discarded.
func (a *App) OpenFile(ctx context.Context, filePath string, opts interfaces.FileOptions) (*interfaces.TabInfo, error) {
	a.Log("info", fmt.Sprintf("[OPEN_TAB] OpenFile called: filePath=%s, opts=%+v", filePath, opts))
	if filePath == "" {
		return nil, fmt.Errorf("file path is empty")
	}
	if _, err := timestamps.ResolveTimezone(opts.IngestTimezoneOverride); err != nil {
		return nil, err
	}
	if fileloader.IsDirectory(filePath) {
		return a.OpenDirectory(ctx, filePath, opts)
	}

	t, err := a.importFile(ctx, filePath, opts)
	if err != nil {
		return nil, err
	}
	a.register(t)
	a.startSearchIndex(t)
	info := t.info()
	return &info, nil
}

// importFile builds a finalized session that is not yet registered.
func (a *App) importFile(ctx context.Context, filePath string, opts interfaces.FileOptions) (*fileTab, error) {
	st, err := store.New(ctx, a.storeOptions())
	if err != nil {
		return nil, err
	}
	res, err := fileloader.Load(ctx, filePath, opts, st, a.loaderOptions())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to import %s: %w", filePath, err)
	}
	if res.Skipped > 0 {
		a.Log("warn", fmt.Sprintf("[IMPORT] %s: %d records could not be decoded", filePath, res.Skipped))
	}
	if _, err := st.FinalizeImport(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to finalize %s: %w", filePath, err)
	}

	// import options are part of the fingerprint
	hash, err := fileloader.FileHash(filePath)
	if err != nil {
		// the session still works, saved annotations just cannot be matched to it
		a.Log("warn", fmt.Sprintf("[IMPORT] Failed to fingerprint %s: %v", filePath, err))
	} else {
		hash = fileloader.CombineHashes([]string{hash, opts.Key()})
	}
	return &fileTab{
		FileName: filepath.Base(filePath),
		FilePath: filePath,
		FileHash: hash,
		Options:  opts,
		skipped:  res.Skipped,
		store:    st,
		engine:   a.newEngine(st, opts.IngestTimezoneOverride),
	}, nil
}

// OpenRecords builds a tab named name from rows given as header to value
// maps, such as a filtered page saved by a client. Columns follow headers.
func (a *App) OpenRecords(ctx context.Context, name string, headers []string, records []map[string]string) (*interfaces.TabInfo, error) {
	a.Log("info", fmt.Sprintf("[OPEN_TAB] OpenRecords called: name=%s, %d records", name, len(records)))
	st, err := store.New(ctx, a.storeOptions())
	if err != nil {
		return nil, err
	}
	if err := st.CreateSchema(ctx, headers); err != nil {
		st.Close()
		return nil, err
	}
	if err := st.InsertRecords(ctx, records); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	if _, err := st.FinalizeImport(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to finalize %s: %w", name, err)
	}
	t := &fileTab{FileName: name, store: st, engine: a.newEngine(st, "")}
	a.register(t)
	a.startSearchIndex(t)
	info := t.info()
	return &info, nil
}

// startSearchIndex kicks off the background search index build when the
// settings ask for it. Otherwise the first contains search builds it.
func (a *App) startSearchIndex(t *fileTab) {
	if !a.settings.AsyncSearchIndex {
		return
	}
	t.store.StartSearchIndexBuild(context.Background(), a.settings.ProgressLogInterval())
}

// OpenDirectory imports every file under dirPath matching opts.FilePattern
// into its own session, concurrently, merges them into one tab ordered by
// each file's first timestamp column, and closes the per-file sessions.
// Files that fail to import are logged and left out.
func (a *App) OpenDirectory(ctx context.Context, dirPath string, opts interfaces.FileOptions) (*interfaces.TabInfo, error) {
	a.Log("info", fmt.Sprintf("[OPEN_DIR_TAB] Opening directory: %s, opts=%+v", dirPath, opts))
	if dirPath == "" {
		return nil, fmt.Errorf("directory path is empty")
	}
	pattern := opts.FilePattern
	if pattern == "" {
		pattern = DefaultDirectoryPattern
	}
	files, err := fileloader.DiscoverFiles(dirPath, pattern, a.settings.MaxDirectoryFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files matching %q in %s", pattern, dirPath)
	}
	if len(files) == a.settings.MaxDirectoryFiles {
		a.Log("warn", fmt.Sprintf("[OPEN_DIR_TAB] Directory may hold more than %d files; loading the first %d", len(files), len(files)))
	}

	fileOpts := opts
	fileOpts.FilePattern = ""
	parts := make([]*fileTab, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(runtime.NumCPU(), 4))
	for i, f := range files {
		g.Go(func() error {
			t, err := a.importFile(gctx, f, fileOpts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.Log("warn", fmt.Sprintf("[OPEN_DIR_TAB] Skipping %s: %v", f, err))
				return nil
			}
			if rel, err := filepath.Rel(dirPath, f); err == nil {
				t.FileName = filepath.ToSlash(rel)
			}
			parts[i] = t
			return nil
		})
	}
	err = g.Wait()

	sources := make([]*fileTab, 0, len(parts))
	for _, t := range parts {
		if t != nil {
			sources = append(sources, t)
		}
	}
	defer func() {
		for _, t := range sources {
			t.close()
		}
	}()
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("none of the %d files in %s could be imported", len(files), dirPath)
	}

	merged, err := a.merge(ctx, sources, nil)
	if err != nil {
		return nil, err
	}
	merged.FilePath = dirPath
	merged.FileName = fmt.Sprintf("%s/ (%d files)", filepath.Base(dirPath), len(sources))
	merged.FileHash = directoryHash(sources)
	merged.Options = opts
	a.register(merged)
	a.startSearchIndex(merged)
	info := merged.info()
	return &info, nil
}

// MergeTabs merges open tabs into a new tab. timestampColumns names the
// column feeding "datetime" per source tab ID; sources without an entry use
// their first detected timestamp column. A tab may appear only once. The
// source tabs stay open.
func (a *App) MergeTabs(ctx context.Context, tabIDs []string, timestampColumns map[string]string) (*interfaces.TabInfo, error) {
	if len(tabIDs) < 2 {
		return nil, fmt.Errorf("merge needs at least two tabs")
	}
	sources := make([]*fileTab, 0, len(tabIDs))
	tsByTab := make(map[*fileTab]string, len(tabIDs))
	for _, id := range tabIDs {
		t, err := a.mustTab(id)
		if err != nil {
			return nil, err
		}
		// each source is read by its own cursor and a store has one connection
		if _, dup := tsByTab[t]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTab, id)
		}
		sources = append(sources, t)
		tsByTab[t] = timestampColumns[id]
	}

	merged, err := a.merge(ctx, sources, tsByTab)
	if err != nil {
		return nil, err
	}
	merged.FileName = fmt.Sprintf("merged (%d tabs)", len(sources))
	merged.FileHash = directoryHash(sources)
	a.register(merged)
	a.startSearchIndex(merged)
	info := merged.info()
	return &info, nil
}

// CloseTab releases a tab's store and deletes its files.
func (a *App) CloseTab(tabID string) error {
	a.tabsMu.Lock()
	t, ok := a.tabs[tabID]
	if ok {
		delete(a.tabs, tabID)
	}
	a.tabsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}
	stats := t.engine.Counts().Stats()
	a.Log("debug", fmt.Sprintf("[COUNT_CACHE] tab %s: %d hits, %d misses, %d invalidations",
		tabID, stats.Hits, stats.Misses, stats.Invalidations))
	t.close()
	a.Log("info", fmt.Sprintf("[CLOSE] Closed tab %s (%s)", tabID, t.FileName))
	return nil
}

// ListTabs returns every open tab in open order.
func (a *App) ListTabs() []interfaces.TabInfo {
	tabs := a.orderedTabs()
	out := make([]interfaces.TabInfo, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, t.info())
	}
	return out
}

// TabInfo describes one open tab.
func (a *App) TabInfo(tabID string) (interfaces.TabInfo, bool) {
	t, ok := a.tab(tabID)
	if !ok {
		return interfaces.TabInfo{}, false
	}
	return t.info(), true
}

// WaitSearchIndex blocks until the tab's search index build, if any, ends.
func (a *App) WaitSearchIndex(ctx context.Context, tabID string) error {
	t, err := a.mustTab(tabID)
	if err != nil {
		return err
	}
	return t.store.WaitSearchIndex(ctx)
}

// BuildSearchIndex builds the tab's search index synchronously.
func (a *App) BuildSearchIndex(ctx context.Context, tabID string) error {
	t, err := a.mustTab(tabID)
	if err != nil {
		return err
	}
	if err := t.store.BuildSearchIndex(ctx); err != nil && !errors.Is(err, store.ErrClosed) {
		return fmt.Errorf("failed to build search index: %w", err)
	}
	return nil
}

// SearchIndexProgress streams the tab's search index progress. The channel
// closes after the ready or aborted event. An unknown tab yields a closed
// channel.
func (a *App) SearchIndexProgress(tabID string) <-chan interfaces.ProgressEvent {
	t, ok := a.tab(tabID)
	if !ok {
		ch := make(chan interfaces.ProgressEvent)
		close(ch)
		return ch
	}
	return t.store.SubscribeSearchIndex()
}
