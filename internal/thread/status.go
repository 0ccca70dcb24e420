package thread

import (
	"strings"
	"unicode/utf8"
)

// MaxNameLength is the platform limit on thread names, in characters.
const MaxNameLength = 100

// Status is the resolution state of a thread, encoded as the leading glyph
// of its name.
type Status int

const (
	Pending Status = iota
	Resolved
)

const (
	pendingGlyph  = "🟡"
	resolvedGlyph = "🟢"
)

// Glyphs lists every glyph recognized as a status marker.
var Glyphs = []string{pendingGlyph, resolvedGlyph}

// StatusFor maps a thread's locked flag to its status.
func StatusFor(locked bool) Status {
	if locked {
		return Resolved
	}
	return Pending
}

// Glyph returns the leading glyph for s.
func (s Status) Glyph() string {
	if s == Resolved {
		return resolvedGlyph
	}
	return pendingGlyph
}

func (s Status) String() string {
	if s == Resolved {
		return "resolved"
	}
	return "pending"
}

// ParseStatus accepts "pending"/"unlocked" and "resolved"/"locked".
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "unlocked":
		return Pending, true
	case "resolved", "locked":
		return Resolved, true
	}
	return Pending, false
}

// HasStatus reports whether title already starts with s's glyph.
func HasStatus(title string, s Status) bool {
	return strings.HasPrefix(title, s.Glyph())
}

// Strip removes every recognized glyph from title, wherever it appears,
// together with a single space following it.
func Strip(title string) string {
	for _, g := range Glyphs {
		title = strings.ReplaceAll(title, g+" ", "")
		title = strings.ReplaceAll(title, g, "")
	}
	return strings.TrimSpace(title)
}

// Normalize returns title carrying exactly one glyph, the one for s.
// Normalize(Normalize(t, s), s) == Normalize(t, s) for every t.
func Normalize(title string, s Status) string {
	rest := Strip(title)
	if rest == "" {
		return s.Glyph()
	}
	name := s.Glyph() + " " + rest
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = strings.TrimSpace(string([]rune(name)[:MaxNameLength]))
	}
	return name
}
