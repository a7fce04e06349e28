// Package direction defines the compass directions rooms can be linked by.
package direction

import "strings"

// Direction indexes a room's exit table.
type Direction int

const (
	North Direction = iota
	South
	East
	West

	// Count is the number of known directions and the size of every exit table.
	Count = int(West) + 1
)

// None is returned by Parse for unknown tokens.
const None Direction = -1

type info struct {
	name     string
	short    string
	opposite Direction
	leave    string
	arrive   string
}

var table = [Count]info{
	North: {"north", "n", South, "left to the north", "entered from the north"},
	South: {"south", "s", North, "left to the south", "entered from the south"},
	East:  {"east", "e", West, "left to the east", "entered from the east"},
	West:  {"west", "w", East, "left to the west", "entered from the west"},
}

// Valid reports whether d indexes the direction table.
func (d Direction) Valid() bool {
	return d >= 0 && int(d) < Count
}

// String returns the direction's full name, e.g. "north".
func (d Direction) String() string {
	if !d.Valid() {
		return "none"
	}
	return table[d].name
}

// Short returns the one-letter alias ("n" for north).
func (d Direction) Short() string {
	if !d.Valid() {
		return ""
	}
	return table[d].short
}

// Opposite returns the reverse direction, or None for an invalid d.
func (d Direction) Opposite() Direction {
	if !d.Valid() {
		return None
	}
	return table[d].opposite
}

// LeaveMessage is shown to a room someone walked out of in direction d.
func (d Direction) LeaveMessage() string {
	if !d.Valid() {
		return ""
	}
	return table[d].leave
}

// ArriveMessage is shown to a room someone walked into from side d.
func (d Direction) ArriveMessage() string {
	if !d.Valid() {
		return ""
	}
	return table[d].arrive
}

// Column is the persisted exit column name for d ("exit_north").
func (d Direction) Column() string {
	return "exit_" + d.String()
}

// All returns every direction in table order.
func All() []Direction {
	dirs := make([]Direction, Count)
	for i := range dirs {
		dirs[i] = Direction(i)
	}
	return dirs
}

// Parse resolves a full name or short alias, case-insensitively.
func Parse(s string) (Direction, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return None, false
	}
	for i, d := range table {
		if s == d.name || s == d.short {
			return Direction(i), true
		}
	}
	return None, false
}
