package chunk

import (
	"cmp"
	"fmt"
)

// MaxCoordinate is the largest absolute chunk coordinate a Pos may hold while
// still being considered inside the world.
const MaxCoordinate = 1875000

// Pos holds the position of a chunk. The type is provided as a utility struct
// to keep track of a chunk's position. Chunks do not themselves keep track of
// that. Chunk positions are different from block positions in the way that
// increasing the X/Z by one means increasing the absolute value on the X/Z
// axis in terms of blocks by 16.
type Pos [2]int32

// InvalidKey is the packed key of a position outside the world. It is never
// produced by a valid Pos and is used as the source node of level graphs.
var InvalidKey = Pos{MaxCoordinate + 66, MaxCoordinate + 66}.Key()

// PosFromKey unpacks a key returned by Pos.Key.
func PosFromKey(key int64) Pos {
	return Pos{int32(uint32(key)), int32(uint32(uint64(key) >> 32))}
}

// X returns the X coordinate of the chunk position.
func (p Pos) X() int32 {
	return p[0]
}

// Z returns the Z coordinate of the chunk position.
func (p Pos) Z() int32 {
	return p[1]
}

// Key packs the position into a single int64 with X in the low 32 bits and Z
// in the high 32 bits.
func (p Pos) Key() int64 {
	return int64(uint64(uint32(p[0])) | uint64(uint32(p[1]))<<32)
}

// Valid checks if the position lies within the world bounds.
func (p Pos) Valid() bool {
	return p[0] >= -MaxCoordinate && p[0] <= MaxCoordinate && p[1] >= -MaxCoordinate && p[1] <= MaxCoordinate
}

// Add returns the position offset by dx and dz.
func (p Pos) Add(dx, dz int32) Pos {
	return Pos{p[0] + dx, p[1] + dz}
}

// Compare orders positions by Z first and X second.
func (p Pos) Compare(o Pos) int {
	if c := cmp.Compare(p[1], o[1]); c != 0 {
		return c
	}
	return cmp.Compare(p[0], o[0])
}

// ChebyshevDistance returns the chessboard distance between two positions.
func (p Pos) ChebyshevDistance(o Pos) int {
	return max(abs(p[0]-o[0]), abs(p[1]-o[1]))
}

// String implements fmt.Stringer.
func (p Pos) String() string {
	return fmt.Sprintf("(%v, %v)", p[0], p[1])
}

// Square calls f for every position within a chessboard distance of radius
// around centre, row by row. Iteration stops if f returns false.
func Square(centre Pos, radius int, f func(pos Pos) bool) {
	r := int32(radius)
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			if !f(centre.Add(dx, dz)) {
				return
			}
		}
	}
}

func abs(v int32) int {
	if v < 0 {
		return int(-v)
	}
	return int(v)
}
