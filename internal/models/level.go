package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is a semaforo severity band. The numeric value is the severity
// order: a larger Level is more severe.
type Level int

const (
	LevelGreen Level = iota
	LevelYellow
	LevelOrange
	LevelRed
	LevelPurple
)

// Levels lists every band from most to least severe, which is also the
// order boundaries are tested in.
var Levels = []Level{LevelPurple, LevelRed, LevelOrange, LevelYellow, LevelGreen}

var levelNames = map[Level]string{
	LevelGreen:  "GREEN",
	LevelYellow: "YELLOW",
	LevelOrange: "ORANGE",
	LevelRed:    "RED",
	LevelPurple: "PURPLE",
}

// String returns the upper-case band name
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// IsValid reports whether l is one of the five bands
func (l Level) IsValid() bool {
	_, ok := levelNames[l]
	return ok
}

// MoreSevereThan reports whether l ranks strictly above other
func (l Level) MoreSevereThan(other Level) bool {
	return l > other
}

// Priority is the sort weight used when ordering many alerts.
// GREEN carries no priority.
func (l Level) Priority() int {
	if !l.IsValid() {
		return 0
	}
	return int(l)
}

// RequiresAttention is true for every band except GREEN
func (l Level) RequiresAttention() bool {
	return l != LevelGreen
}

// ParseLevel parses a band name, case-insensitively
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for l, n := range levelNames {
		if n == name {
			return l, nil
		}
	}
	return LevelGreen, fmt.Errorf("%w: unknown level %q", ErrValidation, s)
}

// MarshalText encodes the level by name, which also makes it usable as a
// JSON map key.
func (l Level) MarshalText() ([]byte, error) {
	if !l.IsValid() {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalJSON encodes the level as its name
func (l Level) MarshalJSON() ([]byte, error) {
	text, err := l.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON decodes a level from its name
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return l.UnmarshalText([]byte(s))
}
