package engine

import (
	"context"
	"sync"

	"torrentsready/internal/trd"
)

type memoryTorrent struct {
	name       string
	files      []trd.EngineFile
	priorities map[int]int
}

// MemoryEngine is an in-process Engine for tests and local runs. Torrents
// must be registered with Seed before AddTorrent can find their metadata.
type MemoryEngine struct {
	mu      sync.Mutex
	catalog map[string]*memoryTorrent
	active  map[string]*memoryTorrent
	removed map[string]int
	errs    map[string][]error
}

var _ trd.Engine = (*MemoryEngine)(nil)

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		catalog: make(map[string]*memoryTorrent),
		active:  make(map[string]*memoryTorrent),
		removed: make(map[string]int),
		errs:    make(map[string][]error),
	}
}

// Seed makes the torrent with hash resolvable. Files start at zero progress.
func (e *MemoryEngine) Seed(hash, name string, files []trd.EngineFile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]trd.EngineFile, len(files))
	copy(cp, files)
	e.catalog[hash] = &memoryTorrent{name: name, files: cp, priorities: make(map[int]int)}
}

// FailNext makes the next call of op return err. Calls queue up.
func (e *MemoryEngine) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs[op] = append(e.errs[op], err)
}

// failure must be called with e.mu held.
func (e *MemoryEngine) failure(op string) error {
	q := e.errs[op]
	if len(q) == 0 {
		return nil
	}
	e.errs[op] = q[1:]
	return q[0]
}

// SetProgress updates the download progress of one file.
func (e *MemoryEngine) SetProgress(hash string, index int, progress float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range []*memoryTorrent{e.catalog[hash], e.active[hash]} {
		if t == nil {
			continue
		}
		for i := range t.files {
			if t.files[i].Index == index {
				t.files[i].Progress = progress
			}
		}
	}
}

// Priority returns the last priority set for a file of an active torrent.
func (e *MemoryEngine) Priority(hash string, index int) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.active[hash]
	if !ok {
		return 0, false
	}
	p, ok := t.priorities[index]
	return p, ok
}

// IsActive reports whether the torrent is currently added.
func (e *MemoryEngine) IsActive(hash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[hash]
	return ok
}

// Removals counts RemoveTorrentAndData calls for hash.
func (e *MemoryEngine) Removals(hash string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removed[hash]
}

func (e *MemoryEngine) Authenticate(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure("Authenticate")
}

func (e *MemoryEngine) AddTorrent(_ context.Context, magnet, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failure("AddTorrent"); err != nil {
		return err
	}
	hash, err := trd.HashFromMagnet(magnet)
	if err != nil {
		return err
	}
	if _, ok := e.active[hash]; ok {
		return nil
	}
	if t, ok := e.catalog[hash]; ok {
		e.active[hash] = t
	} else {
		// Unknown torrents never produce metadata.
		e.active[hash] = &memoryTorrent{priorities: make(map[int]int)}
	}
	return nil
}

func (e *MemoryEngine) GetFiles(_ context.Context, hash string) ([]trd.EngineFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failure("GetFiles"); err != nil {
		return nil, err
	}
	t, ok := e.active[hash]
	if !ok || len(t.files) == 0 {
		return nil, nil
	}
	out := make([]trd.EngineFile, len(t.files))
	copy(out, t.files)
	return out, nil
}

func (e *MemoryEngine) GetTorrentMeta(_ context.Context, hash string) (*trd.TorrentMeta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failure("GetTorrentMeta"); err != nil {
		return nil, err
	}
	t, ok := e.active[hash]
	if !ok || len(t.files) == 0 {
		return nil, nil
	}
	var total int64
	for _, f := range t.files {
		total += f.Size
	}
	return &trd.TorrentMeta{Name: t.name, TotalSize: total}, nil
}

func (e *MemoryEngine) SetFilePriority(_ context.Context, hash string, index, priority int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failure("SetFilePriority"); err != nil {
		return err
	}
	t, ok := e.active[hash]
	if !ok || len(t.files) == 0 {
		return errNoMetadata
	}
	t.priorities[index] = priority
	return nil
}

func (e *MemoryEngine) RemoveTorrentAndData(_ context.Context, hash string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failure("RemoveTorrentAndData"); err != nil {
		return err
	}
	if t, ok := e.active[hash]; ok {
		t.priorities = make(map[int]int)
		for i := range t.files {
			t.files[i].Progress = 0
		}
	}
	delete(e.active, hash)
	e.removed[hash]++
	return nil
}
