package thread

import "strings"

// DefaultChannels are the parent channel names managed when none are configured.
var DefaultChannels = []string{"todos", "bugs", "qol"}

// AllowList is a case-insensitive set of parent channel names whose threads
// get automatic status glyphs.
type AllowList struct {
	names map[string]struct{}
}

// NewAllowList builds an allow-list. Blank names are ignored.
func NewAllowList(names ...string) AllowList {
	a := AllowList{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		a.names[n] = struct{}{}
	}
	return a
}

// Contains reports whether name is on the list.
func (a AllowList) Contains(name string) bool {
	_, ok := a.names[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Len returns the number of names on the list.
func (a AllowList) Len() int { return len(a.names) }
