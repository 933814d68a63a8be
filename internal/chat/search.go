package chat

import (
	"fmt"
	"slices"
	"strings"

	"edutalk/internal/models"
)

// Search is the find-in-conversation overlay. Matches are indexes into the
// message list it was last given.
type Search struct {
	query   string
	matches []int
	cursor  int
}

// Update recomputes the matches for query over msgs. The cursor goes back to
// the first match whenever the query or the match set changes.
func (s *Search) Update(msgs []models.Message, query string) {
	q := strings.ToLower(strings.TrimSpace(query))
	var matches []int
	if q != "" {
		for i, m := range msgs {
			if strings.Contains(strings.ToLower(m.Content), q) {
				matches = append(matches, i)
			}
		}
	}
	if query != s.query || !slices.Equal(matches, s.matches) {
		s.cursor = 0
	}
	s.query = query
	s.matches = matches
}

func (s *Search) Query() string { return s.query }

func (s *Search) Matches() []int {
	return append([]int(nil), s.matches...)
}

func (s *Search) Len() int { return len(s.matches) }

// Cursor is the position in the match set, not a message index.
func (s *Search) Cursor() int { return s.cursor }

// Current returns the message index under the cursor.
func (s *Search) Current() (int, bool) {
	if len(s.matches) == 0 {
		return 0, false
	}
	return s.matches[s.cursor], true
}

// Next moves to the following match, wrapping to the first.
func (s *Search) Next() {
	if len(s.matches) == 0 {
		return
	}
	s.cursor = (s.cursor + 1) % len(s.matches)
}

// Prev moves to the previous match, wrapping to the last.
func (s *Search) Prev() {
	if len(s.matches) == 0 {
		return
	}
	s.cursor = (s.cursor - 1 + len(s.matches)) % len(s.matches)
}

func (s *Search) Reset() {
	*s = Search{}
}

// Counter renders "k/N" for the status line, or "0/0" with no matches.
func (s *Search) Counter() string {
	if len(s.matches) == 0 {
		return "0/0"
	}
	return fmt.Sprintf("%d/%d", s.cursor+1, len(s.matches))
}

// Segment is a run of text that either matches the query or does not.
type Segment struct {
	Text  string
	Match bool
}

// Highlight splits text around every case-insensitive occurrence of query.
func Highlight(text, query string) []Segment {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || text == "" {
		return []Segment{{Text: text}}
	}
	lower := strings.ToLower(text)
	// ToLower can change byte lengths for some runes; fall back to no
	// highlighting rather than slicing at the wrong offsets.
	if len(lower) != len(text) {
		return []Segment{{Text: text}}
	}

	var segs []Segment
	start := 0
	for {
		i := strings.Index(lower[start:], q)
		if i < 0 {
			break
		}
		i += start
		if i > start {
			segs = append(segs, Segment{Text: text[start:i]})
		}
		segs = append(segs, Segment{Text: text[i : i+len(q)], Match: true})
		start = i + len(q)
	}
	if start < len(text) {
		segs = append(segs, Segment{Text: text[start:]})
	}
	return segs
}
