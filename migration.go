package hashring

import (
	"context"
	"fmt"
)

// Migrator is called by AddNode and RemoveNode with the arcs of the hash space
// whose owner changed. Every call receives all arcs leaving one node, so all
// Migrations of a call share From. Calls for different source nodes run
// concurrently.
type Migrator func(ctx context.Context, migrations []Migration) error

// Migration describes the arc (Start, End] of the hash space moving From one
// node To another. The arc wraps past the top of the space when Start >= End.
type Migration struct {
	From, To   string
	Start, End uint32
}

// Contains reports whether the position pos lies on the arc.
func (m Migration) Contains(pos uint32) bool {
	if m.Start < m.End {
		return pos > m.Start && pos <= m.End
	}
	return pos > m.Start || pos <= m.End
}

func (m Migration) String() string {
	return fmt.Sprintf("%s->%s (%d, %d]", m.From, m.To, m.Start, m.End)
}

// migrateIn returns the arcs taken over by nodeID after its positions were
// placed. The ring must hold at least one other node.
func (h *HashRing) migrateIn(nodeID string, positions []uint32) []Migration {
	migrations := make([]Migration, 0, len(positions))
	for _, score := range positions {
		// Previously the arc ending at score belonged to the next position
		// clockwise that is not owned by nodeID.
		lastScore, _ := h.ring.Floor(score - 1)
		from := h.nextOwner(score, nodeID)

		migrations = append(migrations, Migration{
			From:  from,
			To:    nodeID,
			Start: lastScore,
			End:   score,
		})
	}
	return migrations
}

// migrateOut returns the arcs handed away by nodeID. It must run before
// nodeID's positions are removed and the ring must hold at least one other
// node.
func (h *HashRing) migrateOut(nodeID string, positions []uint32) []Migration {
	migrations := make([]Migration, 0, len(positions))
	for _, score := range positions {
		lastScore, _ := h.ring.Floor(score - 1)
		to := h.nextOwner(score, nodeID)

		migrations = append(migrations, Migration{
			From:  nodeID,
			To:    to,
			Start: lastScore,
			End:   score,
		})
	}
	return migrations
}

// nextOwner walks clockwise from score, exclusive, and returns the first
// owner other than nodeID.
func (h *HashRing) nextOwner(score uint32, nodeID string) string {
	for {
		nextScore, _ := h.ring.Ceiling(score + 1)
		if owner, _ := h.ring.Node(nextScore); owner != nodeID {
			return owner
		}
		score = nextScore
	}
}
