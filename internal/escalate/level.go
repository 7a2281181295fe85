package escalate

import "fmt"

// Level is one rung of the ordered response ladder. Higher levels bind to
// higher score thresholds and stronger responses.
type Level int

const (
	LevelNone Level = iota
	LevelWarn
	LevelDegrade
	LevelSuspend
	LevelBlock
)

var levelNames = map[Level]string{
	LevelNone:    "NONE",
	LevelWarn:    "L1_WARN",
	LevelDegrade: "L2_DEGRADE",
	LevelSuspend: "L3_SUSPEND",
	LevelBlock:   "L4_BLOCK",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// MarshalJSON renders levels by name so audit records and API responses read
// L1_WARN rather than 1.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON parses a level name.
func (l *Level) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel maps a level name back to its Level.
func ParseLevel(name string) (Level, error) {
	for l, n := range levelNames {
		if n == name {
			return l, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown level %q", name)
}
