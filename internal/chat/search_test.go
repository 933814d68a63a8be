package chat

import (
	"reflect"
	"testing"

	"edutalk/internal/models"
)

func msgs(contents ...string) []models.Message {
	out := make([]models.Message, len(contents))
	for i, c := range contents {
		out[i] = models.Message{ID: string(rune('a' + i)), Content: c}
	}
	return out
}

func TestSearchWrapsAround(t *testing.T) {
	list := msgs("Hola", "que tal", "hola de nuevo", "adios", "HOLA!")
	var s Search
	s.Update(list, "hola")

	if got := s.Matches(); !reflect.DeepEqual(got, []int{0, 2, 4}) {
		t.Fatalf("matches = %v", got)
	}
	if s.Counter() != "1/3" {
		t.Fatalf("counter = %s", s.Counter())
	}

	s.Prev()
	if s.Cursor() != 2 {
		t.Fatalf("prev at 0 = %d, want last", s.Cursor())
	}
	s.Next()
	if s.Cursor() != 0 {
		t.Fatalf("next at last = %d, want 0", s.Cursor())
	}
	s.Next()
	if i, ok := s.Current(); !ok || i != 2 {
		t.Fatalf("current = %d, %v", i, ok)
	}
}

func TestSearchEmptyMatchSet(t *testing.T) {
	var s Search
	s.Update(msgs("a", "b"), "zzz")
	s.Next()
	s.Prev()
	if s.Cursor() != 0 || s.Len() != 0 {
		t.Fatalf("cursor = %d, len = %d", s.Cursor(), s.Len())
	}
	if _, ok := s.Current(); ok {
		t.Fatal("current on empty match set")
	}
	if s.Counter() != "0/0" {
		t.Fatalf("counter = %s", s.Counter())
	}

	s.Update(msgs("a"), "")
	if s.Len() != 0 {
		t.Fatal("empty query matched")
	}
}

func TestSearchCursorResets(t *testing.T) {
	list := msgs("uno", "dos", "uno mas")
	var s Search
	s.Update(list, "uno")
	s.Next()
	if s.Cursor() != 1 {
		t.Fatalf("cursor = %d", s.Cursor())
	}

	// Same query, same matches: cursor stays.
	s.Update(list, "uno")
	if s.Cursor() != 1 {
		t.Fatalf("cursor moved on identical update: %d", s.Cursor())
	}

	// Match set changes.
	s.Update(append(list, models.Message{Content: "uno tres"}), "uno")
	if s.Cursor() != 0 {
		t.Fatalf("cursor not reset on new match: %d", s.Cursor())
	}

	s.Next()
	s.Update(list, "un")
	if s.Cursor() != 0 {
		t.Fatalf("cursor not reset on query change: %d", s.Cursor())
	}

	s.Reset()
	if s.Query() != "" || s.Len() != 0 {
		t.Fatal("reset kept state")
	}
}

func TestHighlight(t *testing.T) {
	tests := []struct {
		text, query string
		want        []Segment
	}{
		{"hola mundo", "", []Segment{{Text: "hola mundo"}}},
		{"hola mundo", "MUN", []Segment{{Text: "hola "}, {Text: "mun", Match: true}, {Text: "do"}}},
		{"aXaxa", "x", []Segment{{Text: "a"}, {Text: "X", Match: true}, {Text: "a"}, {Text: "x", Match: true}, {Text: "a"}}},
		{"abc", "abc", []Segment{{Text: "abc", Match: true}}},
		{"abc", "zz", []Segment{{Text: "abc"}}},
	}
	for _, tt := range tests {
		if got := Highlight(tt.text, tt.query); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Highlight(%q, %q) = %+v, want %+v", tt.text, tt.query, got, tt.want)
		}
	}
}
