package bootstrap

import (
	"path/filepath"
	"testing"
	"time"

	"typevoice/internal/domain"
	"typevoice/internal/history"
)

func newTestHistoryStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCaptureOmitsHistoryWhenPolicyExcludesIt(t *testing.T) {
	store := newTestHistoryStore(t)
	if err := store.Append(domain.HistoryItem{TaskID: "t1", CreatedAtMs: time.Now().UnixMilli(), FinalText: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	c := newContextCollector(nil, store, func() domain.ContextPolicy {
		return domain.ContextPolicy{IncludeHistory: false}
	})

	pack, err := c.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(pack.History) != 0 {
		t.Fatalf("expected no history, got %d items", len(pack.History))
	}
}

func TestCaptureIncludesRecentHistoryWithinWindow(t *testing.T) {
	store := newTestHistoryStore(t)
	now := time.Now().UnixMilli()
	if err := store.Append(domain.HistoryItem{TaskID: "recent", CreatedAtMs: now, FinalText: "recent item"}); err != nil {
		t.Fatalf("append recent: %v", err)
	}
	if err := store.Append(domain.HistoryItem{TaskID: "old", CreatedAtMs: now - 2*time.Hour.Milliseconds(), FinalText: "old item"}); err != nil {
		t.Fatalf("append old: %v", err)
	}

	c := newContextCollector(nil, store, func() domain.ContextPolicy {
		return domain.ContextPolicy{
			IncludeHistory:  true,
			MaxHistoryItems: 5,
			HistoryWindow:   30 * time.Minute,
		}
	})

	pack, err := c.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(pack.History) != 1 {
		t.Fatalf("expected exactly 1 recent item, got %d", len(pack.History))
	}
	if pack.History[0].TaskID != "recent" {
		t.Fatalf("unexpected history item: %+v", pack.History[0])
	}
}

func TestCaptureSkipsHistoryWhenMaxItemsIsZero(t *testing.T) {
	store := newTestHistoryStore(t)
	if err := store.Append(domain.HistoryItem{TaskID: "t1", CreatedAtMs: time.Now().UnixMilli(), FinalText: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	c := newContextCollector(nil, store, func() domain.ContextPolicy {
		return domain.ContextPolicy{IncludeHistory: true, MaxHistoryItems: 0}
	})

	pack, err := c.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(pack.History) != 0 {
		t.Fatalf("expected no history when MaxHistoryItems is 0, got %d", len(pack.History))
	}
}

func TestCaptureOmitsPreviousWindowOnUnsupportedPlatform(t *testing.T) {
	store := newTestHistoryStore(t)
	c := newContextCollector(nil, store, func() domain.ContextPolicy {
		return domain.ContextPolicy{IncludePreviousWindow: true}
	})

	pack, err := c.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if pack.PreviousWindow != nil {
		t.Fatalf("expected no previous window snapshot, got %+v", pack.PreviousWindow)
	}
}
