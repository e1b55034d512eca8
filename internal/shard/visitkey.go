package shard

import (
	"strconv"
	"strings"

	"github.com/PStryder/SEGFAULT/internal/geometry"
)

// visitKey/parseVisitKey encode a tile as a JSON-object-safe map key
// ("x,y"), a hand-rolled composite-key codec for map keys that JSON
// cannot represent as structured tuples.
func visitKey(t geometry.Tile) string {
	return strconv.Itoa(t.X) + "," + strconv.Itoa(t.Y)
}

func parseVisitKey(k string) (geometry.Tile, bool) {
	parts := strings.SplitN(k, ",", 2)
	if len(parts) != 2 {
		return geometry.Tile{}, false
	}
	x, err1 := strconv.Atoi(parts[0])
	y, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return geometry.Tile{}, false
	}
	return geometry.Tile{X: x, Y: y}, true
}
