package grain

import "fmt"

// EpistemicLevel classifies how well-established a pattern is. Levels are
// ordered: a pattern climbs the ladder as evidence accumulates, and the
// level is carried unchanged from candidate to grain at crystallization.
type EpistemicLevel string

const (
	// LevelObserved marks a pattern that has been seen but not yet
	// corroborated across cycles.
	LevelObserved EpistemicLevel = "observed"

	// LevelCorroborated marks a pattern confirmed by repeated hits in
	// independent query cycles.
	LevelCorroborated EpistemicLevel = "corroborated"

	// LevelCrystallized marks a pattern that passed validation and has
	// been compressed into a grain.
	LevelCrystallized EpistemicLevel = "crystallized"

	// LevelAxiomatic marks a grain promoted to an axiom of its cartridge.
	LevelAxiomatic EpistemicLevel = "axiomatic"
)

// String returns the string representation of the level.
func (l EpistemicLevel) String() string {
	return string(l)
}

// IsValid returns true if the level is a recognized value.
func (l EpistemicLevel) IsValid() bool {
	switch l {
	case LevelObserved, LevelCorroborated, LevelCrystallized, LevelAxiomatic:
		return true
	}
	return false
}

// rank orders levels for comparison. Unknown levels rank below observed.
func (l EpistemicLevel) rank() int {
	switch l {
	case LevelObserved:
		return 1
	case LevelCorroborated:
		return 2
	case LevelCrystallized:
		return 3
	case LevelAxiomatic:
		return 4
	}
	return 0
}

// AtLeast reports whether l is at or above the given level.
func (l EpistemicLevel) AtLeast(other EpistemicLevel) bool {
	return l.rank() >= other.rank()
}

// ParseEpistemicLevel parses a string into an EpistemicLevel.
func ParseEpistemicLevel(s string) (EpistemicLevel, error) {
	l := EpistemicLevel(s)
	if !l.IsValid() {
		return "", fmt.Errorf("unknown epistemic level: %s", s)
	}
	return l, nil
}
