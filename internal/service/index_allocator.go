package service

import (
	"context"
	"fmt"
	"sync"
)

// indexSeeder reports the first unused photo index in a room.
type indexSeeder interface {
	NextIndex(ctx context.Context, roomID int64) (int, error)
}

// indexAllocator hands out photo indices in contiguous blocks. Each room is
// seeded from storage once; later reservations continue from memory so two
// imports into the same room never receive overlapping ranges.
type indexAllocator struct {
	seed indexSeeder

	mu   sync.Mutex
	next map[int64]int
}

func newIndexAllocator(seed indexSeeder) *indexAllocator {
	return &indexAllocator{seed: seed, next: make(map[int64]int)}
}

// Reserve claims n consecutive indices in the room and returns the first.
func (a *indexAllocator) Reserve(ctx context.Context, roomID int64, n int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	first, ok := a.next[roomID]
	if !ok {
		var err error
		first, err = a.seed.NextIndex(ctx, roomID)
		if err != nil {
			return 0, fmt.Errorf("failed to seed photo index: %w", err)
		}
	}
	a.next[roomID] = first + n
	return first, nil
}
