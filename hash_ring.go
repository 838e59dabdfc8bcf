package hashring

import "sort"

// ring holds the virtual node positions in ascending order together with the
// node owning each position. A position has exactly one owner. ring is not
// goroutine safe; HashRing guards it.
type ring struct {
	positions []uint32
	owners    map[uint32]string
}

func newRing() *ring {
	return &ring{owners: make(map[uint32]string)}
}

func (r *ring) Len() int { return len(r.positions) }

// search returns the index of the first position >= score, or Len() when
// score is past every position.
func (r *ring) search(score uint32) int {
	return sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] >= score
	})
}

// Add places nodeID at score. It returns false without touching the ring when
// score already has an owner.
func (r *ring) Add(score uint32, nodeID string) bool {
	if _, ok := r.owners[score]; ok {
		return false
	}

	idx := r.search(score)
	r.positions = append(r.positions, 0)
	copy(r.positions[idx+1:], r.positions[idx:])
	r.positions[idx] = score
	r.owners[score] = nodeID
	return true
}

// Rem removes score from the ring. It returns false if score was not present.
func (r *ring) Rem(score uint32) bool {
	if _, ok := r.owners[score]; !ok {
		return false
	}

	idx := r.search(score)
	r.positions = append(r.positions[:idx], r.positions[idx+1:]...)
	delete(r.owners, score)
	return true
}

// Node returns the owner of score.
func (r *ring) Node(score uint32) (string, bool) {
	nodeID, ok := r.owners[score]
	return nodeID, ok
}

// Ceiling returns the first position clockwise from score, score included.
// When score is past the largest position it wraps to the smallest one.
func (r *ring) Ceiling(score uint32) (uint32, bool) {
	if len(r.positions) == 0 {
		return 0, false
	}

	idx := r.search(score)
	if idx == len(r.positions) {
		idx = 0
	}
	return r.positions[idx], true
}

// Floor returns the first position counter-clockwise from score, score
// included. When score is below the smallest position it wraps to the largest.
func (r *ring) Floor(score uint32) (uint32, bool) {
	if len(r.positions) == 0 {
		return 0, false
	}

	idx := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] > score
	})
	if idx == 0 {
		idx = len(r.positions)
	}
	return r.positions[idx-1], true
}
