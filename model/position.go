package model

import "math"

// Position is a planar coordinate in metres.
type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Box is an axis-aligned rectangle. Bounds are inclusive of Min and
// exclusive of Max, matching a uniform real draw.
type Box struct {
	MinX float64 `yaml:"min_x" json:"min_x"`
	MaxX float64 `yaml:"max_x" json:"max_x"`
	MinY float64 `yaml:"min_y" json:"min_y"`
	MaxY float64 `yaml:"max_y" json:"max_y"`
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Position) bool {
	return p.X >= b.MinX && p.X < b.MaxX && p.Y >= b.MinY && p.Y < b.MaxY
}

// PlacementSpec describes where a cell sits: the access point is fixed at
// Anchor and stations are jittered inside Box.
type PlacementSpec struct {
	Anchor Position `yaml:"anchor" json:"anchor"`
	Box    Box      `yaml:"box" json:"box"`
}

// DistanceTo returns the straight-line distance between two positions.
func (p Position) DistanceTo(other Position) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}
