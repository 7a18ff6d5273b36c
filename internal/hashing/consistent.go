// Package hashing provides a consistent-hash ring. The fanout hub uses it to
// pin each room to one shard: for a fixed shard set the mapping is stable,
// so every event for a room flows through the same shard goroutine.
package hashing

import (
	"hash/crc32"
	"slices"
	"sort"
	"strconv"
	"sync"
)

type Ring struct {
	points   []uint32
	owners   map[uint32]string
	replicas int
	mu       sync.RWMutex
}

func NewRing(replicas int) *Ring {
	if replicas <= 0 {
		replicas = 16
	}
	return &Ring{
		owners:   make(map[uint32]string),
		replicas: replicas,
	}
}

func hash(key string) uint32 {
	return crc32.ChecksumIEEE([]byte(key))
}

// Add places replicas virtual points for node on the ring.
func (r *Ring) Add(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.replicas {
		point := hash(node + "#" + strconv.Itoa(i))
		if _, ok := r.owners[point]; !ok {
			r.owners[point] = node
			r.points = append(r.points, point)
		}
	}
	slices.Sort(r.points)
}

// Get returns the node owning key: the first point at or after the key's
// hash, wrapping past the top of the ring. Returns "" on an empty ring.
func (r *Ring) Get(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.points) == 0 {
		return ""
	}

	h := hash(key)
	idx := sort.Search(len(r.points), func(i int) bool {
		return r.points[i] >= h
	})
	if idx == len(r.points) {
		idx = 0
	}
	return r.owners[r.points[idx]]
}
