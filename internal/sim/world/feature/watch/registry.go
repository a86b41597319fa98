package watch

import "voxelresidency.ai/internal/sim/world/terrain/store"

// Watcher is anything that needs a square of chunks resident, usually a
// player's view.
type Watcher struct {
	ID        string
	Center    store.ChunkKey
	Radius    int
	MaxChunks int

	view []store.ChunkKey
}

func (w *Watcher) View() []store.ChunkKey { return w.view }

// Change is the result of a watcher update. Entered chunks gained their first
// watcher or another one; Released chunks lost their last watcher.
type Change struct {
	Entered  []store.ChunkKey
	Released []store.ChunkKey
}

// Registry keeps the watcher set of every chunk as a reference count.
type Registry struct {
	watchers map[string]*Watcher
	refs     map[store.ChunkKey]int
}

func NewRegistry() *Registry {
	return &Registry{
		watchers: map[string]*Watcher{},
		refs:     map[store.ChunkKey]int{},
	}
}

// Upsert adds a watcher or moves an existing one.
func (r *Registry) Upsert(id string, center store.ChunkKey, radius, maxChunks int) Change {
	w, ok := r.watchers[id]
	if !ok {
		w = &Watcher{ID: id}
		r.watchers[id] = w
	}
	w.Center = center
	w.Radius = radius
	w.MaxChunks = maxChunks

	next := ViewSet(center, radius, maxChunks)
	entered, left := Diff(w.view, next)
	w.view = next

	var ch Change
	for _, k := range entered {
		r.refs[k]++
		ch.Entered = append(ch.Entered, k)
	}
	ch.Released = r.release(left)
	return ch
}

// Remove drops a watcher and releases its whole view.
func (r *Registry) Remove(id string) Change {
	w, ok := r.watchers[id]
	if !ok {
		return Change{}
	}
	delete(r.watchers, id)
	return Change{Released: r.release(w.view)}
}

func (r *Registry) release(keys []store.ChunkKey) []store.ChunkKey {
	var out []store.ChunkKey
	for _, k := range keys {
		n := r.refs[k] - 1
		if n > 0 {
			r.refs[k] = n
			continue
		}
		delete(r.refs, k)
		out = append(out, k)
	}
	return out
}

// Watched reports whether any watcher currently requires k.
func (r *Registry) Watched(k store.ChunkKey) bool { return r.refs[k] > 0 }

func (r *Registry) Watchers(k store.ChunkKey) int { return r.refs[k] }

func (r *Registry) Len() int { return len(r.watchers) }

func (r *Registry) Get(id string) (*Watcher, bool) {
	w, ok := r.watchers[id]
	return w, ok
}
