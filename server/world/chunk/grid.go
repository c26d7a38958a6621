package chunk

import "fmt"

// Grid is a fixed square of values centred on a chunk position, created once
// and read afterwards.
type Grid[T any] struct {
	centre Pos
	radius int
	size   int
	values []T
}

// NewGrid creates a Grid with the radius passed around centre, filling every
// cell with the value returned by f. Cells are filled row by row.
func NewGrid[T any](centre Pos, radius int, f func(pos Pos) T) *Grid[T] {
	size := radius*2 + 1
	g := &Grid[T]{centre: centre, radius: radius, size: size, values: make([]T, 0, size*size)}
	Square(centre, radius, func(pos Pos) bool {
		g.values = append(g.values, f(pos))
		return true
	})
	return g
}

// Get returns the value at pos. Get panics if pos lies outside the grid.
func (g *Grid[T]) Get(pos Pos) T {
	dx, dz := int(pos[0]-g.centre[0]), int(pos[1]-g.centre[1])
	if !g.Contains(pos) {
		panic(fmt.Sprintf("requested %v outside grid of radius %v around %v", pos, g.radius, g.centre))
	}
	return g.values[(dz+g.radius)*g.size+dx+g.radius]
}

// Contains checks if pos lies within the grid.
func (g *Grid[T]) Contains(pos Pos) bool {
	return g.centre.ChebyshevDistance(pos) <= g.radius
}

// Centre returns the position the grid is centred on.
func (g *Grid[T]) Centre() Pos {
	return g.centre
}

// Radius returns the radius of the grid.
func (g *Grid[T]) Radius() int {
	return g.radius
}

// All calls f for every cell in the grid.
func (g *Grid[T]) All(f func(pos Pos, v T)) {
	i := 0
	Square(g.centre, g.radius, func(pos Pos) bool {
		f(pos, g.values[i])
		i++
		return true
	})
}
