package stream

// Direction is the compass direction the tracked position has left the
// spawn cell in. +Z is north, +X is east.
type Direction int

const (
	None Direction = iota
	North
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

var directionNames = [...]string{
	None:      "none",
	North:     "north",
	NorthEast: "north-east",
	East:      "east",
	SouthEast: "south-east",
	South:     "south",
	SouthWest: "south-west",
	West:      "west",
	NorthWest: "north-west",
}

func (d Direction) String() string {
	if d < None || d > NorthWest {
		return "unknown"
	}
	return directionNames[d]
}

// Offset returns the cell step for d.
func (d Direction) Offset() (dx, dz int) {
	switch d {
	case North:
		return 0, 1
	case NorthEast:
		return 1, 1
	case East:
		return 1, 0
	case SouthEast:
		return 1, -1
	case South:
		return 0, -1
	case SouthWest:
		return -1, -1
	case West:
		return -1, 0
	case NorthWest:
		return -1, 1
	}
	return 0, 0
}

// classify maps a displacement from the spawn point to a direction. A
// diagonal needs both boundaries crossed.
func classify(dx, dz, boundaryX, boundaryZ float64) Direction {
	overX := dx > boundaryX || dx < -boundaryX
	overZ := dz > boundaryZ || dz < -boundaryZ

	switch {
	case overX && overZ:
		switch {
		case dx > 0 && dz > 0:
			return NorthEast
		case dx > 0:
			return SouthEast
		case dz > 0:
			return NorthWest
		default:
			return SouthWest
		}
	case overX:
		if dx > 0 {
			return East
		}
		return West
	case overZ:
		if dz > 0 {
			return North
		}
		return South
	}
	return None
}
