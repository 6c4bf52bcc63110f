package hub

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// relativeTime buckets a timestamp for display: "just now", minutes,
// hours, days, then the calendar date beyond a week.
func relativeTime(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
	return t.Format("Jan 2, 2006")
}

var (
	mdCodeBlock = regexp.MustCompile("(?s)```.*?```")
	mdInline    = regexp.MustCompile("`([^`]*)`")
	mdLink      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeading   = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis  = regexp.MustCompile(`(\*\*|__|\*|_)([^*_]+)(\*\*|__|\*|_)`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// excerpt flattens markdown into a single display line and truncates it
// to max runes with an ellipsis when cut.
func excerpt(body string, max int) string {
	s := mdCodeBlock.ReplaceAllString(body, " ")
	s = mdInline.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, "$2")
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))

	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "…"
}
