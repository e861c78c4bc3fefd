package region

import (
	"sync"

	"github.com/kdart/procshare/internal/config"
	"github.com/kdart/procshare/internal/procerr"
)

// Row is one entry of the region registry: the spec.md §3 "(RegionHandle,
// size) pair". An empty row is the zero Row{}, whose Handle is not Valid.
type Row struct {
	Handle Handle
	Size   int
}

// Registry is the region table living in Globals: a mutex-guarded,
// fixed-width array of Rows plus a free-search hint, as spec.md §4.3
// describes regtable. It is a plain Go struct rather than a shared-memory
// layout: Globals holds a pointer to it, and every participant sharing
// that *Globals uses the same Registry directly (see internal/globals).
type Registry struct {
	mu   sync.Mutex
	rows [config.MaxRegions]Row
	hint int
}

// NewRegistry returns an empty region registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.rows {
		r.rows[i].Handle = Handle{}
	}
	return r
}

// Add inserts a new row, starting the free search at the hint left by the
// previous call, and returns its index.
func (r *Registry) Add(h Handle) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < config.MaxRegions; i++ {
		idx := (r.hint + i) % config.MaxRegions
		if !r.rows[idx].Handle.Valid() {
			r.rows[idx] = Row{Handle: h, Size: h.Size}
			r.hint = (idx + 1) % config.MaxRegions
			return idx, nil
		}
	}
	return -1, procerr.ErrTooManyRegions
}

// Remove clears row index, freeing it for reuse.
func (r *Registry) Remove(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= config.MaxRegions {
		return
	}
	r.rows[index] = Row{}
}

// Lookup returns the row at index.
func (r *Registry) Lookup(index int) (Row, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= config.MaxRegions || !r.rows[index].Handle.Valid() {
		return Row{}, false
	}
	return r.rows[index], true
}

// Count returns the number of occupied rows.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, row := range r.rows {
		if row.Handle.Valid() {
			n++
		}
	}
	return n
}

// Rows returns a snapshot of every occupied row, paired with its index.
func (r *Registry) Rows() map[int]Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]Row, config.MaxRegions)
	for i, row := range r.rows {
		if row.Handle.Valid() {
			out[i] = row
		}
	}
	return out
}
