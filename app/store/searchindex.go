package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"casefile/app/interfaces"

	"golang.org/x/time/rate"
)

// SearchTable is the trigram full-text table. Its rowid is the row key.
const SearchTable = "search_index"

const (
	stateNotBuilt = interfaces.IndexNotBuilt
	stateBuilding = interfaces.IndexBuilding
	stateReady    = interfaces.IndexReady
	stateAborted  = interfaces.IndexAborted
)

var errBuildAborted = errors.New("search index build aborted")

// searchIndex tracks the NotBuilt -> Building -> Ready state machine and the
// subscribers waiting for progress.
type searchIndex struct {
	mu      sync.Mutex
	state   string
	indexed int64
	total   int64
	subs    []chan interfaces.ProgressEvent
	cancel  context.CancelFunc
	done    chan struct{}
}

func (si *searchIndex) event() interfaces.ProgressEvent {
	return interfaces.ProgressEvent{
		State:   si.state,
		Indexed: si.indexed,
		Total:   si.total,
		Done:    si.state == stateReady || si.state == stateAborted,
	}
}

// publish delivers the current progress without blocking. Terminal events
// always reach subscribers and close their channels.
func (si *searchIndex) publish() {
	ev := si.event()
	for _, ch := range si.subs {
		if ev.Done {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				ch <- ev
			}
			close(ch)
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
	if ev.Done {
		si.subs = nil
	}
}

func (si *searchIndex) abort() {
	si.mu.Lock()
	cancel := si.cancel
	si.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SearchIndexState returns one of the interfaces.Index* states.
func (s *Store) SearchIndexState() string {
	s.search.mu.Lock()
	defer s.search.mu.Unlock()
	return s.search.state
}

// SearchIndexReady reports whether searches may use the index.
func (s *Store) SearchIndexReady() bool {
	return s.SearchIndexState() == stateReady
}

// SubscribeSearchIndex returns a channel of progress events. When the index
// is already ready or aborted the channel carries that one event and is
// closed; otherwise it follows the current or next build and closes after
// its terminal event.
func (s *Store) SubscribeSearchIndex() <-chan interfaces.ProgressEvent {
	ch := make(chan interfaces.ProgressEvent, 64)
	s.search.mu.Lock()
	defer s.search.mu.Unlock()
	ev := s.search.event()
	if s.closed.Load() && !ev.Done {
		ev.State, ev.Done = stateAborted, true
	}
	if ev.Done {
		ch <- ev
		close(ch)
		return ch
	}
	if s.search.state == stateBuilding {
		ch <- ev
	}
	s.search.subs = append(s.search.subs, ch)
	return ch
}

// BuildSearchIndex builds the index synchronously. It does nothing when the
// index is ready or a background build is running; callers check
// SearchIndexReady afterwards.
func (s *Store) BuildSearchIndex(ctx context.Context) error {
	if !s.beginBuild(nil) {
		return nil
	}
	err := s.runBuild(ctx, nil)
	s.endBuild(err)
	if err != nil && !errors.Is(err, errBuildAborted) {
		return err
	}
	return nil
}

// StartSearchIndexBuild starts a chunked background build and returns its
// progress stream. Queries keep running between chunks using the direct
// scan fallback. The build stops silently when the store closes.
func (s *Store) StartSearchIndexBuild(ctx context.Context, logEvery time.Duration) <-chan interfaces.ProgressEvent {
	progress := s.SubscribeSearchIndex()
	buildCtx, cancel := context.WithCancel(ctx)
	if !s.beginBuild(cancel) {
		cancel()
		return progress
	}
	sometimes := &rate.Sometimes{Interval: logEvery}
	go func() {
		defer cancel()
		err := s.runBuild(buildCtx, func(indexed, total int64) {
			sometimes.Do(func() {
				s.opts.Logger.Log("debug", fmt.Sprintf("[SEARCH_INDEX] %d/%d rows indexed", indexed, total))
			})
		})
		s.endBuild(err)
	}()
	return progress
}

// WaitSearchIndex blocks until a running build finishes.
func (s *Store) WaitSearchIndex(ctx context.Context) error {
	s.search.mu.Lock()
	done := s.search.done
	s.search.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) beginBuild(cancel context.CancelFunc) bool {
	if s.closed.Load() {
		return false
	}
	s.search.mu.Lock()
	defer s.search.mu.Unlock()
	if s.search.state == stateBuilding || s.search.state == stateReady {
		return false
	}
	s.search.state = stateBuilding
	s.search.indexed = 0
	s.search.total = s.RowCount()
	s.search.cancel = cancel
	s.search.done = make(chan struct{})
	s.search.publish()
	return true
}

func (s *Store) endBuild(err error) {
	s.search.mu.Lock()
	defer s.search.mu.Unlock()
	switch {
	case err == nil:
		s.search.state = stateReady
		s.opts.Logger.Log("info", fmt.Sprintf("[SEARCH_INDEX] Ready: %d rows", s.search.indexed))
	case errors.Is(err, errBuildAborted) || s.closed.Load():
		s.search.state = stateAborted
	default:
		s.search.state = stateNotBuilt
		s.opts.Logger.Log("warn", fmt.Sprintf("[SEARCH_INDEX] Build failed: %v", err))
	}
	s.search.publish()
	if s.search.state == stateNotBuilt {
		// a failed build leaves no terminal state; release its subscribers
		ev := s.search.event()
		ev.Done = true
		for _, ch := range s.search.subs {
			select {
			case ch <- ev:
			default:
			}
			close(ch)
		}
		s.search.subs = nil
	}
	s.search.cancel = nil
	if s.search.done != nil {
		close(s.search.done)
		s.search.done = nil
	}
}

// runBuild recreates the index and fills it chunk by chunk. The connection
// is released between chunks so queued queries interleave with the build.
func (s *Store) runBuild(ctx context.Context, onChunk func(indexed, total int64)) error {
	cols := s.Columns()
	if len(cols) == 0 {
		return ErrNoSchema
	}
	idents := make([]string, len(cols))
	for i, c := range cols {
		idents[i] = c.Ident
	}
	body := strings.Join(idents, " || char(10) || ")

	stmts := []string{
		"DROP TABLE IF EXISTS " + SearchTable,
		"CREATE VIRTUAL TABLE " + SearchTable + " USING fts5(body, content='', tokenize='trigram')",
	}
	if err := s.execAll(ctx, stmts); err != nil {
		if s.closed.Load() || ctx.Err() != nil {
			return errBuildAborted
		}
		return fmt.Errorf("failed to create search index: %w", err)
	}

	var maxKey int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(_rk), 0) FROM "+RowsTable).Scan(&maxKey); err != nil {
		if s.closed.Load() || ctx.Err() != nil {
			return errBuildAborted
		}
		return fmt.Errorf("failed to read row key range: %w", err)
	}

	insert := "INSERT INTO " + SearchTable + " (rowid, body) SELECT _rk, " + body +
		" FROM " + RowsTable + " WHERE _rk > ? AND _rk <= ?"
	chunk := int64(s.opts.SearchIndexChunkRows)
	for lo := int64(0); lo < maxKey; lo += chunk {
		if s.closed.Load() || ctx.Err() != nil {
			return errBuildAborted
		}
		res, err := s.db.ExecContext(ctx, insert, lo, lo+chunk)
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil {
				return errBuildAborted
			}
			return fmt.Errorf("failed to index rows %d-%d: %w", lo+1, lo+chunk, err)
		}
		n, _ := res.RowsAffected()

		s.search.mu.Lock()
		s.search.indexed += n
		indexed, total := s.search.indexed, s.search.total
		s.search.publish()
		s.search.mu.Unlock()
		if onChunk != nil {
			onChunk(indexed, total)
		}
	}
	return nil
}
