package parser

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// DefaultDateLayouts is the declared list of accepted date layouts, tried in
// order. Numeric forms are day-first. Single-digit layout elements also accept
// zero-padded input, so "2/1/2006" matches both 5/3/2026 and 05/03/2026.
var DefaultDateLayouts = []string{
	"2/1/2006",
	"2/1/06",
	"2-1-2006",
	"2-1-06",
	"2.1.2006",
	"2.1.06",
	"2 Jan 2006",
	"2-Jan-2006",
	"2 Jan 06",
	"2-Jan-06",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006-01-02",
	"2006/01/02",
	time.RFC3339,
}

// ParseDate parses s using layouts, or DefaultDateLayouts when none are given.
// A value matching no layout is an error; nothing is guessed.
func ParseDate(s string, layouts ...string) (civil.Date, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return civil.Date{}, fmt.Errorf("empty date")
	}
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognized date %q", s)
}
