package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"casefile/app/interfaces"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ToggleBookmark flips the bookmark on one row and returns the new state.
func (a *App) ToggleBookmark(ctx context.Context, tabID string, rowKey int64) (bool, error) {
	t, err := a.mustTab(tabID)
	if err != nil {
		return false, err
	}
	return t.store.ToggleBookmark(ctx, rowKey)
}

// SetBookmarks sets or clears the bookmark on many rows.
func (a *App) SetBookmarks(ctx context.Context, tabID string, rowKeys []int64, on bool) error {
	t, err := a.mustTab(tabID)
	if err != nil {
		return err
	}
	return t.store.SetBookmarks(ctx, rowKeys, on)
}

// AddTag attaches tag to rows.
func (a *App) AddTag(ctx context.Context, tabID string, rowKeys []int64, tag string) error {
	t, err := a.mustTab(tabID)
	if err != nil {
		return err
	}
	return t.store.AddTag(ctx, rowKeys, tag)
}

// RemoveTag detaches tag from rows.
func (a *App) RemoveTag(ctx context.Context, tabID string, rowKeys []int64, tag string) error {
	t, err := a.mustTab(tabID)
	if err != nil {
		return err
	}
	return t.store.RemoveTag(ctx, rowKeys, tag)
}

// TagNames lists the tags in use on a tab.
func (a *App) TagNames(ctx context.Context, tabID string) []string {
	t, ok := a.tab(tabID)
	if !ok {
		return []string{}
	}
	names, err := t.store.TagNames(ctx)
	if err != nil {
		a.Log("warn", fmt.Sprintf("[TAGS] tab %s: %v", tabID, err))
		return []string{}
	}
	return names
}

// HighlightRules lists a tab's highlight rules in display order.
func (a *App) HighlightRules(ctx context.Context, tabID string) []interfaces.HighlightRule {
	t, ok := a.tab(tabID)
	if !ok {
		return []interfaces.HighlightRule{}
	}
	rules, err := t.store.HighlightRules(ctx)
	if err != nil {
		a.Log("warn", fmt.Sprintf("[HIGHLIGHT] tab %s: %v", tabID, err))
		return []interfaces.HighlightRule{}
	}
	return rules
}

// SaveHighlightRule creates a rule, or updates the rule with the same ID.
func (a *App) SaveHighlightRule(ctx context.Context, tabID string, rule interfaces.HighlightRule) (interfaces.HighlightRule, error) {
	t, err := a.mustTab(tabID)
	if err != nil {
		return rule, err
	}
	if strings.TrimSpace(rule.Column) == "" {
		return rule, fmt.Errorf("highlight rule needs a column")
	}
	return t.store.SaveHighlightRule(ctx, rule)
}

// DeleteHighlightRule removes a rule.
func (a *App) DeleteHighlightRule(ctx context.Context, tabID, ruleID string) error {
	t, err := a.mustTab(tabID)
	if err != nil {
		return err
	}
	return t.store.DeleteHighlightRule(ctx, ruleID)
}

// ReplaceHighlightRules swaps the whole rule list; order follows rules.
func (a *App) ReplaceHighlightRules(ctx context.Context, tabID string, rules []interfaces.HighlightRule) ([]interfaces.HighlightRule, error) {
	t, err := a.mustTab(tabID)
	if err != nil {
		return nil, err
	}
	return t.store.ReplaceHighlightRules(ctx, rules)
}

// ApplySessionState re-applies saved bookmarks, tags and highlight rules to
// a freshly imported tab, replacing whatever it holds, and returns the
// query request the state encodes. A state fingerprinted for another file
// is rejected with ErrSessionMismatch.
func (a *App) ApplySessionState(ctx context.Context, tabID string, state interfaces.SessionState) (interfaces.QueryRequest, error) {
	t, err := a.mustTab(tabID)
	if err != nil {
		return interfaces.QueryRequest{}, err
	}
	if state.FileHash != "" && t.FileHash != "" && state.FileHash != t.FileHash {
		return interfaces.QueryRequest{}, fmt.Errorf("%w: tab %s", ErrSessionMismatch, tabID)
	}

	bookmarks := uniqueKeys(state.BookmarkedRowKeys)
	tags := make(map[int64][]string, len(state.TagsByRowKey))
	for k, names := range state.TagsByRowKey {
		tags[k] = uniqueStrings(names)
	}
	if err := t.store.RestoreAnnotations(ctx, bookmarks, tags); err != nil {
		return interfaces.QueryRequest{}, err
	}
	if _, err := t.store.ReplaceHighlightRules(ctx, state.HighlightRules); err != nil {
		return interfaces.QueryRequest{}, err
	}
	a.Log("info", fmt.Sprintf("[SESSION] tab %s: restored %d bookmarks, %d tagged rows, %d highlight rules",
		tabID, len(bookmarks), len(tags), len(state.HighlightRules)))
	return state.QueryRequest(), nil
}

// CaptureSessionState fills the tab's bookmarks, tags, highlight rules and
// file fingerprint into view, which carries the host's view settings.
func (a *App) CaptureSessionState(ctx context.Context, tabID string, view interfaces.SessionState) (interfaces.SessionState, error) {
	t, err := a.mustTab(tabID)
	if err != nil {
		return view, err
	}
	if view.BookmarkedRowKeys, err = t.store.Bookmarks(ctx); err != nil {
		return view, err
	}
	if view.TagsByRowKey, err = t.store.Tags(ctx); err != nil {
		return view, err
	}
	if view.HighlightRules, err = t.store.HighlightRules(ctx); err != nil {
		return view, err
	}
	view.FileHash = t.FileHash
	return view, nil
}

// uniqueKeys returns the distinct positive keys, ascending.
func uniqueKeys(keys []int64) []int64 {
	bm := roaring64.New()
	for _, k := range keys {
		if k > 0 {
			bm.Add(uint64(k))
		}
	}
	out := make([]int64, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int64(it.Next()))
	}
	return out
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
