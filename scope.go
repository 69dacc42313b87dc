package trellis

import (
	"encoding/json"
	"fmt"
)

// Scope specifies the instance-sharing behavior of a component definition.
type Scope int

const (
	// Singleton specifies that at most one shared instance exists per name.
	// The instance is created on first request, cached for the container's
	// lifetime, and torn down during Close in reverse dependency order.
	Singleton Scope = iota

	// Prototype specifies that every request constructs a fresh instance.
	// Prototype instances are never cached and the container does not track
	// them for destruction.
	Prototype
)

// String returns the string representation of the Scope.
func (s Scope) String() string {
	switch s {
	case Singleton:
		return "Singleton"
	case Prototype:
		return "Prototype"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// IsValid checks if the scope is a known value.
func (s Scope) IsValid() bool {
	return s >= Singleton && s <= Prototype
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Singleton", "singleton":
		*s = Singleton
	case "Prototype", "prototype":
		*s = Prototype
	default:
		return ScopeError{Value: string(text)}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	return s.UnmarshalText([]byte(str))
}
