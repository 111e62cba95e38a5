package resource

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("resource table closed")

// A handle packs a slot index (low bits) and the slot's generation (high
// bits). A slot's generation advances on every Remove, so a released handle
// never resolves to whatever is stored in the slot next.
const (
	indexBits = 20
	indexMask = 1<<indexBits - 1
	genMask   = 1<<(32-indexBits) - 1
)

// Table maps handles to values. It is safe for concurrent use.
type Table struct {
	entries  []entry
	freeList []uint32
	mu       sync.RWMutex
	live     int
	closed   bool
}

type entry struct {
	value  any
	typeID TypeID
	gen    uint32
	valid  bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 16),
		freeList: make([]uint32, 0, 8),
	}
}

func makeHandle(idx, gen uint32) Handle {
	return Handle(gen<<indexBits | (idx + 1))
}

// Insert adds a value and returns its handle.
func (t *Table) Insert(typeID TypeID, value any) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrClosed
	}

	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		e := &t.entries[idx]
		e.value, e.typeID, e.valid = value, typeID, true
		t.live++
		return makeHandle(idx, e.gen), nil
	}

	if len(t.entries) >= indexMask {
		return 0, errors.New("resource table full")
	}
	t.entries = append(t.entries, entry{typeID: typeID, value: value, valid: true})
	t.live++
	return makeHandle(uint32(len(t.entries)-1), 0), nil
}

// Get retrieves a value by handle.
func (t *Table) Get(h Handle) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(h)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// GetTyped retrieves a value only if it was inserted with typeID.
func (t *Table) GetTyped(h Handle, typeID TypeID) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(h)
	if !ok || e.typeID != typeID {
		return nil, false
	}
	return e.value, true
}

// Remove drops a resource and returns (value, true) if found.
func (t *Table) Remove(h Handle) (any, bool) {
	t.mu.Lock()
	e, ok := t.lookup(h)
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	idx := uint32(h&indexMask) - 1
	t.entries[idx] = entry{gen: (e.gen + 1) & genMask}
	t.freeList = append(t.freeList, idx)
	t.live--
	t.mu.Unlock()

	if d, ok := e.value.(Dropper); ok {
		d.Drop()
	}
	return e.value, true
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Close drops every live resource and stops accepting inserts.
// Calling Close more than once is a no-op.
func (t *Table) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	entries := t.entries
	t.entries = nil
	t.freeList = nil
	t.live = 0
	t.mu.Unlock()

	for _, e := range entries {
		if !e.valid {
			continue
		}
		if d, ok := e.value.(Dropper); ok {
			d.Drop()
		}
	}
}

func (t *Table) lookup(h Handle) (entry, bool) {
	idx := uint32(h & indexMask)
	if idx == 0 || int(idx) > len(t.entries) {
		return entry{}, false
	}
	e := t.entries[idx-1]
	if !e.valid || e.gen != uint32(h)>>indexBits {
		return entry{}, false
	}
	return e, true
}
