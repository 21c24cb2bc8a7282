package history

import (
	"path/filepath"
	"testing"

	"typevoice/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndList(t *testing.T) {
	s := openTestStore(t)

	if err := s.Append(domain.HistoryItem{TaskID: "t1", CreatedAtMs: 100, AsrText: "hi", FinalText: "hi there", DeviceUsed: "cuda"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(domain.HistoryItem{TaskID: "t2", CreatedAtMs: 200, AsrText: "bye", DeviceUsed: "cuda"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	items, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 || items[0].TaskID != "t2" {
		t.Fatalf("unexpected order: %+v", items)
	}
}

func TestListRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		if err := s.Append(domain.HistoryItem{TaskID: "t" + string(rune('a'+i)), CreatedAtMs: int64(i), DeviceUsed: "cuda"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	items, err := s.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestClearRemovesAllRows(t *testing.T) {
	s := openTestStore(t)
	if err := s.Append(domain.HistoryItem{TaskID: "t1", CreatedAtMs: 1, DeviceUsed: "cuda"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	items, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty history, got %d rows", len(items))
	}
}

func TestRecentWithinFiltersByWindow(t *testing.T) {
	s := openTestStore(t)
	if err := s.Append(domain.HistoryItem{TaskID: "old", CreatedAtMs: 0, DeviceUsed: "cuda"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(domain.HistoryItem{TaskID: "new", CreatedAtMs: 1_000_000, DeviceUsed: "cuda"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	items, err := s.RecentWithin(1_000_000, 60_000, 10)
	if err != nil {
		t.Fatalf("RecentWithin: %v", err)
	}
	if len(items) != 1 || items[0].TaskID != "new" {
		t.Fatalf("unexpected window filter result: %+v", items)
	}
}
