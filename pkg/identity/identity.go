// Package identity matches tracker person names against the notification
// directory. Names are compared after lower-casing and removing whitespace.
package identity

import (
	"fmt"
	"strings"
	"unicode"
)

// Normalize lower-cases name and strips all whitespace.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Match reports whether two person names refer to the same person.
// Empty names never match.
func Match(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

// MatchAny reports whether name matches any of candidates.
func MatchAny(name string, candidates []string) bool {
	for _, c := range candidates {
		if Match(name, c) {
			return true
		}
	}
	return false
}

// Map resolves tracker names to notification identities and knows the
// managers of each space.
type Map struct {
	identities map[string]string
	managers   map[string][]string
}

// New builds a Map. Two tracker names that normalize to the same key are
// rejected since lookups could not tell them apart.
func New(identities map[string]string, managers map[string][]string) (*Map, error) {
	m := &Map{
		identities: make(map[string]string, len(identities)),
		managers:   make(map[string][]string, len(managers)),
	}
	seen := make(map[string]string, len(identities))
	for name, target := range identities {
		key := Normalize(name)
		if key == "" {
			return nil, fmt.Errorf("identity map: empty tracker name mapped to %q", target)
		}
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("identity map: %q and %q normalize to the same name", prev, name)
		}
		seen[key] = name
		m.identities[key] = strings.TrimSpace(target)
	}
	for space, names := range managers {
		key := Normalize(space)
		m.managers[key] = append(m.managers[key], names...)
	}
	return m, nil
}

// Resolve returns the notification identity for a tracker name.
func (m *Map) Resolve(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	id, ok := m.identities[Normalize(name)]
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Managers returns the configured manager names for a space, in order. Space
// names are matched like person names.
func (m *Map) Managers(space string) []string {
	if m == nil {
		return nil
	}
	return m.managers[Normalize(space)]
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.identities)
}
