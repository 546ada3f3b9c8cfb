package repository

import "sync"

// ring is a bounded, mutex-guarded buffer that overwrites its oldest item.
type ring[T any] struct {
	mu    sync.Mutex
	max   int
	items []T
	next  int
}

func newRing[T any](max int) *ring[T] {
	if max <= 0 {
		max = 1000
	}
	return &ring[T]{max: max, items: make([]T, 0, max)}
}

func (r *ring[T]) push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) < r.max {
		r.items = append(r.items, v)
		return
	}
	r.items[r.next] = v
	r.next = (r.next + 1) % r.max
}

// newest walks from the latest item back, collecting up to limit that pass keep.
func (r *ring[T]) newest(limit int, keep func(T) bool) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, limit)
	n := len(r.items)
	for i := 1; i <= n && len(out) < limit; i++ {
		if v := r.items[(r.next+n-i)%n]; keep(v) {
			out = append(out, v)
		}
	}
	return out
}
