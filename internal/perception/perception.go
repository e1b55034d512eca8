// Package perception builds the per-process perception payload at tick
// commit: the locally-knowable 3x3 keypad view around a process, expanded
// by union with every other process in its adjacency cluster, plus the
// drained contents of that process's event queue. It never reveals
// shard-wide counts or another process's identity. Each VisibleTile does
// carry its absolute grid position in Pos; positions are not made relative
// to the viewer.
package perception

import (
	"sort"
	"strings"

	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

// TileKind is what a visible tile contains, from the viewer's perspective.
type TileKind int

const (
	TileEmpty TileKind = iota
	TileSelf
	TileProcess
	TileDefragger
	TileGate
)

func (k TileKind) glyph() byte {
	switch k {
	case TileSelf:
		return '@'
	case TileProcess:
		return 'p'
	case TileDefragger:
		return 'D'
	case TileGate:
		return 'g'
	default:
		return '.'
	}
}

// VisibleTile is one cell of a perception payload.
type VisibleTile struct {
	Pos             geometry.Tile
	Kind            TileKind
	BlockedFromSelf bool
	Echo            bool
}

// EventKind classifies a drained perception event.
type EventKind int

const (
	EventSystem EventKind = iota
	EventBroadcast
	EventStaticBurst
	EventNoise
	EventLocalChat
)

func (k EventKind) String() string {
	switch k {
	case EventBroadcast:
		return "broadcast"
	case EventStaticBurst:
		return "static-burst"
	case EventNoise:
		return "noise"
	case EventLocalChat:
		return "local-chat"
	default:
		return "system"
	}
}

// Event is one entry drained from a process's event queue this tick.
type Event struct {
	Kind    EventKind
	From    string
	Message string
}

// Payload is what one live process receives at tick commit.
type Payload struct {
	Tick      int64
	ProcessID string
	Grid      string
	Tiles     []VisibleTile
	Events    []Event
}

// Build projects the shard's current (post-drift, post-movement) state
// into the payload for processID. ok is false if processID is not a live
// process in this shard.
func Build(s *shard.Shard, processID string, drainedEvents []Event) (Payload, bool) {
	viewer, ok := s.Processes[processID]
	if !ok || !viewer.Alive {
		return Payload{}, false
	}
	walls := s.WallSet()

	cluster := adjacencyCluster(s, walls, viewer)
	union := make(map[geometry.Tile]struct{})
	for _, member := range cluster {
		for _, t := range keypad3x3(member.Pos) {
			if s.Grid.InBounds(t) {
				union[t] = struct{}{}
			}
		}
	}

	echoSet := make(map[geometry.Tile]struct{}, len(s.Echoes))
	for _, e := range s.Echoes {
		echoSet[e.Pos] = struct{}{}
	}

	positions := make([]geometry.Tile, 0, len(union))
	for t := range union {
		positions = append(positions, t)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Y != positions[j].Y {
			return positions[i].Y < positions[j].Y
		}
		return positions[i].X < positions[j].X
	})

	tiles := make([]VisibleTile, 0, len(positions))
	for _, t := range positions {
		tiles = append(tiles, VisibleTile{
			Pos:             t,
			Kind:            classify(s, viewer, t),
			BlockedFromSelf: blockedFromSelf(walls, viewer.Pos, t),
			Echo:            echoPresent(echoSet, t),
		})
	}

	return Payload{
		Tick:      s.Tick,
		ProcessID: processID,
		Grid:      render(viewer.Pos, tiles),
		Tiles:     tiles,
		Events:    drainedEvents,
	}, true
}

func classify(s *shard.Shard, viewer *shard.Process, t geometry.Tile) TileKind {
	if t == viewer.Pos {
		return TileSelf
	}
	if t == s.Defragger.Pos {
		return TileDefragger
	}
	if p, ok := s.ProcessAt(t); ok && p.ID != viewer.ID {
		return TileProcess
	}
	for _, g := range s.Gates {
		if g.Pos == t {
			return TileGate
		}
	}
	return TileEmpty
}

func blockedFromSelf(walls geometry.WallSet, self, t geometry.Tile) bool {
	dx, dy := t.X-self.X, t.Y-self.Y
	if dx < -1 || dx > 1 || dy < -1 || dy > 1 || (dx == 0 && dy == 0) {
		return false
	}
	return !geometry.Adjacent(walls, self, t)
}

func echoPresent(echoSet map[geometry.Tile]struct{}, t geometry.Tile) bool {
	_, ok := echoSet[t]
	return ok
}

// adjacencyCluster returns every live process transitively adjacent to
// viewer (including viewer itself), over the shard's current topology.
func adjacencyCluster(s *shard.Shard, walls geometry.WallSet, viewer *shard.Process) []*shard.Process {
	live := s.LiveProcesses()
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	visited := map[string]bool{viewer.ID: true}
	queue := []*shard.Process{viewer}
	out := []*shard.Process{viewer}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range live {
			if visited[p.ID] {
				continue
			}
			if geometry.Adjacent(walls, cur.Pos, p.Pos) {
				visited[p.ID] = true
				out = append(out, p)
				queue = append(queue, p)
			}
		}
	}
	return out
}

func keypad3x3(center geometry.Tile) []geometry.Tile {
	out := make([]geometry.Tile, 0, 9)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			out = append(out, geometry.Tile{X: center.X + dx, Y: center.Y + dy})
		}
	}
	return out
}

// render draws a minimal ASCII map of the visible tiles, bounded to their
// own extent, for the convenience of terminal clients; it carries no
// information the structured Tiles slice doesn't already have.
func render(self geometry.Tile, tiles []VisibleTile) string {
	if len(tiles) == 0 {
		return ""
	}
	minX, maxX, minY, maxY := tiles[0].Pos.X, tiles[0].Pos.X, tiles[0].Pos.Y, tiles[0].Pos.Y
	byPos := make(map[geometry.Tile]VisibleTile, len(tiles))
	for _, t := range tiles {
		byPos[t.Pos] = t
		if t.Pos.X < minX {
			minX = t.Pos.X
		}
		if t.Pos.X > maxX {
			maxX = t.Pos.X
		}
		if t.Pos.Y < minY {
			minY = t.Pos.Y
		}
		if t.Pos.Y > maxY {
			maxY = t.Pos.Y
		}
	}
	var b strings.Builder
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if t, ok := byPos[geometry.Tile{X: x, Y: y}]; ok {
				b.WriteByte(t.Kind.glyph())
			} else {
				b.WriteByte(' ')
			}
		}
		if y != maxY {
			b.WriteByte('\n')
		}
	}
	_ = self
	return b.String()
}
