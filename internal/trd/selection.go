package trd

import (
	"fmt"
	"sort"
	"sync"

	"torrentsready/internal/model"
)

type selectionKey struct {
	torrentID int64
	userID    int64
}

type selection struct {
	contents []*model.Content // ordered by index
	chosen   map[string]struct{}
}

// SelectionStore holds the in-progress file choices of users paging through
// a torrent's file list. A selection lives from Open until Finalize or
// Discard and is never persisted. Safe for concurrent use.
type SelectionStore struct {
	mu   sync.Mutex
	sets map[selectionKey]*selection
}

func NewSelectionStore() *SelectionStore {
	return &SelectionStore{sets: make(map[selectionKey]*selection)}
}

// PageEntry is one row of the file list as shown to the user.
type PageEntry struct {
	Index    int
	Path     string
	Size     int64
	Selected bool
}

// SelectionPage is a page of the file list plus totals for the whole selection.
type SelectionPage struct {
	Page          int
	Pages         int
	Entries       []PageEntry
	SelectedCount int
	SelectedSize  int64
}

// Open starts an empty selection over contents, replacing any previous one
// for the same torrent and user.
func (s *SelectionStore) Open(torrentID, userID int64, contents []*model.Content) {
	sorted := make([]*model.Content, len(contents))
	copy(sorted, contents)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[selectionKey{torrentID, userID}] = &selection{
		contents: sorted,
		chosen:   make(map[string]struct{}),
	}
}

// get must be called with s.mu held.
func (s *SelectionStore) get(torrentID, userID int64) (*selection, error) {
	sel, ok := s.sets[selectionKey{torrentID, userID}]
	if !ok {
		return nil, fmt.Errorf("torrent %d: %w", torrentID, ErrSelectionNotOpen)
	}
	return sel, nil
}

// Toggle flips path in the selection and returns its new state.
func (s *SelectionStore) Toggle(torrentID, userID int64, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.get(torrentID, userID)
	if err != nil {
		return false, err
	}
	if !sel.has(path) {
		return false, fmt.Errorf("path %q: %w", path, ErrContentNotFound)
	}
	if _, ok := sel.chosen[path]; ok {
		delete(sel.chosen, path)
		return false, nil
	}
	sel.chosen[path] = struct{}{}
	return true, nil
}

// ToggleIndex flips the file with the given engine index.
func (s *SelectionStore) ToggleIndex(torrentID, userID int64, index int) (bool, error) {
	s.mu.Lock()
	sel, err := s.get(torrentID, userID)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	path := ""
	for _, c := range sel.contents {
		if c.Index == index {
			path = c.Path
			break
		}
	}
	s.mu.Unlock()

	if path == "" {
		return false, fmt.Errorf("index %d: %w", index, ErrContentNotFound)
	}
	return s.Toggle(torrentID, userID, path)
}

// SelectAll adds every given path that belongs to the torrent.
func (s *SelectionStore) SelectAll(torrentID, userID int64, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.get(torrentID, userID)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if sel.has(p) {
			sel.chosen[p] = struct{}{}
		}
	}
	return nil
}

func (s *SelectionStore) UnselectAll(torrentID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.get(torrentID, userID)
	if err != nil {
		return err
	}
	sel.chosen = make(map[string]struct{})
	return nil
}

func (s *SelectionStore) IsSelected(torrentID, userID int64, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.get(torrentID, userID)
	if err != nil {
		return false
	}
	_, ok := sel.chosen[path]
	return ok
}

// Paths returns every path of the torrent, in index order.
func (s *SelectionStore) Paths(torrentID, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.get(torrentID, userID)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(sel.contents))
	for i, c := range sel.contents {
		paths[i] = c.Path
	}
	return paths, nil
}

// Selected returns the chosen paths in index order.
func (s *SelectionStore) Selected(torrentID, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.get(torrentID, userID)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, c := range sel.contents {
		if _, ok := sel.chosen[c.Path]; ok {
			paths = append(paths, c.Path)
		}
	}
	return paths, nil
}

// Split partitions the torrent's contents into selected and unselected.
func (s *SelectionStore) Split(torrentID, userID int64) (selected, unselected []*model.Content, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.get(torrentID, userID)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range sel.contents {
		if _, ok := sel.chosen[c.Path]; ok {
			selected = append(selected, c)
		} else {
			unselected = append(unselected, c)
		}
	}
	return selected, unselected, nil
}

// Page returns page number page (zero-based) of perPage entries. A page
// past the end is clamped to the last page.
func (s *SelectionStore) Page(torrentID, userID int64, page, perPage int) (*SelectionPage, error) {
	if perPage <= 0 {
		perPage = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.get(torrentID, userID)
	if err != nil {
		return nil, err
	}

	pages := (len(sel.contents) + perPage - 1) / perPage
	if pages == 0 {
		pages = 1
	}
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}

	out := &SelectionPage{Page: page, Pages: pages}
	for i, c := range sel.contents {
		_, chosen := sel.chosen[c.Path]
		if chosen {
			out.SelectedCount++
			out.SelectedSize += c.Size
		}
		if i >= page*perPage && i < (page+1)*perPage {
			out.Entries = append(out.Entries, PageEntry{
				Index:    c.Index,
				Path:     c.Path,
				Size:     c.Size,
				Selected: chosen,
			})
		}
	}
	return out, nil
}

// Discard drops the selection. Discarding an unknown selection is a no-op.
func (s *SelectionStore) Discard(torrentID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, selectionKey{torrentID, userID})
}

func (sel *selection) has(path string) bool {
	for _, c := range sel.contents {
		if c.Path == path {
			return true
		}
	}
	return false
}
