package trd

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"torrentsready/internal/model"
)

func testContents(n int) []*model.Content {
	out := make([]*model.Content, n)
	for i := 0; i < n; i++ {
		// Reverse order so Open has to sort by index.
		idx := n - 1 - i
		out[i] = &model.Content{ID: int64(idx + 1), Index: idx, Path: "album/" + string(rune('a'+idx)), Size: int64(10 * (idx + 1))}
	}
	return out
}

func TestSelectionStore_Toggle(t *testing.T) {
	s := NewSelectionStore()
	s.Open(1, 1, testContents(3))

	on, err := s.Toggle(1, 1, "album/b")
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if !on {
		t.Error("Toggle() = false, want true on first toggle")
	}
	if !s.IsSelected(1, 1, "album/b") {
		t.Error("IsSelected() = false after toggle on")
	}

	on, err = s.Toggle(1, 1, "album/b")
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if on {
		t.Error("Toggle() = true, want false on second toggle")
	}

	if _, err := s.Toggle(1, 1, "album/zzz"); !errors.Is(err, ErrContentNotFound) {
		t.Errorf("Toggle(unknown path) error = %v, want ErrContentNotFound", err)
	}
	if _, err := s.Toggle(2, 1, "album/a"); !errors.Is(err, ErrSelectionNotOpen) {
		t.Errorf("Toggle(unopened torrent) error = %v, want ErrSelectionNotOpen", err)
	}
}

func TestSelectionStore_ToggleIndex(t *testing.T) {
	s := NewSelectionStore()
	s.Open(1, 1, testContents(3))

	on, err := s.ToggleIndex(1, 1, 2)
	if err != nil {
		t.Fatalf("ToggleIndex() error = %v", err)
	}
	if !on || !s.IsSelected(1, 1, "album/c") {
		t.Error("ToggleIndex(2) did not select album/c")
	}
	if _, err := s.ToggleIndex(1, 1, 9); !errors.Is(err, ErrContentNotFound) {
		t.Errorf("ToggleIndex(9) error = %v, want ErrContentNotFound", err)
	}
}

func TestSelectionStore_SelectAllAndSplit(t *testing.T) {
	s := NewSelectionStore()
	s.Open(1, 1, testContents(4))

	paths, err := s.Paths(1, 1)
	if err != nil {
		t.Fatalf("Paths() error = %v", err)
	}
	want := []string{"album/a", "album/b", "album/c", "album/d"}
	if !slices.Equal(paths, want) {
		t.Fatalf("Paths() = %v, want %v", paths, want)
	}

	if err := s.SelectAll(1, 1, append(paths, "not/in/torrent")); err != nil {
		t.Fatalf("SelectAll() error = %v", err)
	}
	if _, err := s.Toggle(1, 1, "album/c"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	selected, unselected, err := s.Split(1, 1)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(selected) != 3 || len(unselected) != 1 || unselected[0].Path != "album/c" {
		t.Errorf("Split() = %d selected, unselected %v", len(selected), unselected)
	}

	got, _ := s.Selected(1, 1)
	if !slices.Equal(got, []string{"album/a", "album/b", "album/d"}) {
		t.Errorf("Selected() = %v", got)
	}

	if err := s.UnselectAll(1, 1); err != nil {
		t.Fatalf("UnselectAll() error = %v", err)
	}
	if got, _ := s.Selected(1, 1); len(got) != 0 {
		t.Errorf("Selected() after UnselectAll = %v, want empty", got)
	}
}

func TestSelectionStore_Page(t *testing.T) {
	s := NewSelectionStore()
	s.Open(1, 1, testContents(5))
	if _, err := s.Toggle(1, 1, "album/e"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	tests := []struct {
		name        string
		page        int
		wantPage    int
		wantEntries int
		firstIndex  int
	}{
		{"first page", 0, 0, 2, 0},
		{"middle page", 1, 1, 2, 2},
		{"last page is partial", 2, 2, 1, 4},
		{"past the end is clamped", 7, 2, 1, 4},
		{"negative is clamped", -1, 0, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.Page(1, 1, tt.page, 2)
			if err != nil {
				t.Fatalf("Page() error = %v", err)
			}
			if p.Page != tt.wantPage || p.Pages != 3 {
				t.Errorf("Page() = page %d of %d, want %d of 3", p.Page, p.Pages, tt.wantPage)
			}
			if len(p.Entries) != tt.wantEntries || p.Entries[0].Index != tt.firstIndex {
				t.Errorf("Page() entries = %+v", p.Entries)
			}
			if p.SelectedCount != 1 || p.SelectedSize != 50 {
				t.Errorf("Page() totals = %d/%d, want 1/50", p.SelectedCount, p.SelectedSize)
			}
		})
	}
}

func TestSelectionStore_SelectionsAreIsolated(t *testing.T) {
	s := NewSelectionStore()
	s.Open(1, 1, testContents(2))
	s.Open(1, 2, testContents(2))

	if _, err := s.Toggle(1, 1, "album/a"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if s.IsSelected(1, 2, "album/a") {
		t.Error("selection of user 1 leaked into user 2")
	}

	s.Discard(1, 1)
	if _, err := s.Selected(1, 1); !errors.Is(err, ErrSelectionNotOpen) {
		t.Errorf("Selected() after Discard error = %v, want ErrSelectionNotOpen", err)
	}
	s.Discard(1, 1)
}

func TestSelectionStore_ConcurrentToggles(t *testing.T) {
	s := NewSelectionStore()
	s.Open(1, 1, testContents(8))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if _, err := s.ToggleIndex(1, 1, idx); err != nil {
				t.Errorf("ToggleIndex(%d) error = %v", idx, err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.Selected(1, 1)
	if len(got) != 8 {
		t.Errorf("Selected() has %d paths, want 8", len(got))
	}
}
