package store

import (
	"fmt"
	"math/rand/v2"
)

// Sample draws k distinct entries uniformly at random without replacement.
// Positions come from a full shuffle of [0, n) truncated to k, so every
// ordering of every k-subset is equally likely. The read lock is held for the
// whole draw: the sample never interleaves with an insert.
//
// rng is owned by the caller and must not be shared between goroutines.
func (s *Store) Sample(rng *rand.Rand, k int) ([]Entry, error) {
	if k < 0 {
		return nil, fmt.Errorf("sample size %d: must not be negative", k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if n < k {
		return nil, fmt.Errorf("sample %d of %d: %w", k, n, ErrNotEnough)
	}

	positions := shuffledPositions(rng, n)
	batch := make([]Entry, k)
	for i, pos := range positions[:k] {
		batch[i] = s.entries[pos]
	}
	return batch, nil
}

func shuffledPositions(rng *rand.Rand, n int) []int {
	positions := make([]int, n)
	for i := range positions {
		positions[i] = i
	}
	rng.Shuffle(n, func(i, j int) {
		positions[i], positions[j] = positions[j], positions[i]
	})
	return positions
}
