package glob

import (
	"fmt"
	"sort"
)

type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenAny
	tokenStar
	tokenClass
)

type runeRange struct {
	lo rune
	hi rune
}

type token struct {
	kind   tokenKind
	lit    rune
	ranges []runeRange
}

const maxRune = rune(0x10FFFF)

// Everything except the path separator.
var nonSeparatorRanges = []runeRange{
	{lo: 0, hi: '/' - 1},
	{lo: '/' + 1, hi: maxRune},
}

// segmentPatternsOverlap runs a product construction over the token
// automata of two single-segment patterns: a state (i, j) means i tokens of
// a and j tokens of b have matched the same prefix of some concrete
// segment. Star tokens contribute epsilon moves (match the empty string).
func segmentPatternsOverlap(a, b string) (bool, error) {
	tokensA, err := parseSegment(a)
	if err != nil {
		return false, err
	}
	tokensB, err := parseSegment(b)
	if err != nil {
		return false, err
	}

	type state struct {
		i int
		j int
	}

	addClosure := func(initial state, seen map[state]struct{}, queue *[]state) {
		stack := []state{initial}
		for len(stack) > 0 {
			curr := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, ok := seen[curr]; ok {
				continue
			}
			seen[curr] = struct{}{}
			*queue = append(*queue, curr)
			if curr.i < len(tokensA) && tokensA[curr.i].kind == tokenStar {
				stack = append(stack, state{i: curr.i + 1, j: curr.j})
			}
			if curr.j < len(tokensB) && tokensB[curr.j].kind == tokenStar {
				stack = append(stack, state{i: curr.i, j: curr.j + 1})
			}
		}
	}

	seen := make(map[state]struct{})
	queue := make([]state, 0, (len(tokensA)+1)*(len(tokensB)+1))
	addClosure(state{}, seen, &queue)

	for idx := 0; idx < len(queue); idx++ {
		curr := queue[idx]
		if curr.i == len(tokensA) && curr.j == len(tokensB) {
			return true, nil
		}
		if curr.i == len(tokensA) || curr.j == len(tokensB) {
			continue
		}

		aNext, aRanges := consume(tokensA, curr.i)
		bNext, bRanges := consume(tokensB, curr.j)
		if !rangesIntersect(aRanges, bRanges) {
			continue
		}

		addClosure(state{i: aNext, j: bNext}, seen, &queue)
	}

	return false, nil
}

// consume returns the state index after the token at idx matches one rune,
// along with the rune ranges that token accepts. A star stays in place
// because it can keep absorbing runes.
func consume(tokens []token, idx int) (next int, ranges []runeRange) {
	tok := tokens[idx]
	switch tok.kind {
	case tokenStar:
		return idx, nonSeparatorRanges
	case tokenLiteral:
		return idx + 1, []runeRange{{lo: tok.lit, hi: tok.lit}}
	default:
		return idx + 1, tok.ranges
	}
}

func parseSegment(segment string) ([]token, error) {
	runes := []rune(segment)
	tokens := make([]token, 0, len(runes))

	for i := 0; i < len(runes); {
		switch runes[i] {
		case '*':
			tokens = append(tokens, token{kind: tokenStar})
			i++
		case '?':
			tokens = append(tokens, token{kind: tokenAny, ranges: nonSeparatorRanges})
			i++
		case '[':
			tok, next, err := parseClass(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next
		case '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("bad pattern %q: trailing escape", segment)
			}
			tokens = append(tokens, token{kind: tokenLiteral, lit: runes[i+1]})
			i += 2
		default:
			tokens = append(tokens, token{kind: tokenLiteral, lit: runes[i]})
			i++
		}
	}

	return tokens, nil
}

func parseClass(runes []rune, start int) (token, int, error) {
	i := start + 1
	if i >= len(runes) {
		return token{}, 0, fmt.Errorf("bad pattern: unterminated class")
	}
	negated := false
	if runes[i] == '^' || runes[i] == '!' {
		negated = true
		i++
	}

	var ranges []runeRange
	hadItem := false
	closed := false

	for i < len(runes) {
		if runes[i] == ']' && hadItem {
			i++
			closed = true
			break
		}

		lo, next, err := readClassRune(runes, i)
		if err != nil {
			return token{}, 0, err
		}
		i = next

		if i+1 < len(runes) && runes[i] == '-' && runes[i+1] != ']' {
			hi, nextHi, err := readClassRune(runes, i+1)
			if err != nil {
				return token{}, 0, err
			}
			if hi < lo {
				return token{}, 0, fmt.Errorf("bad pattern: inverted range %c-%c", lo, hi)
			}
			ranges = append(ranges, runeRange{lo: lo, hi: hi})
			i = nextHi
			hadItem = true
			continue
		}

		ranges = append(ranges, runeRange{lo: lo, hi: lo})
		hadItem = true
	}

	if !closed {
		return token{}, 0, fmt.Errorf("bad pattern: unterminated class")
	}

	ranges = normalizeRanges(ranges)
	if negated {
		ranges = subtractRanges(nonSeparatorRanges, ranges)
	} else {
		ranges = intersectRanges(ranges, nonSeparatorRanges)
	}

	return token{kind: tokenClass, ranges: ranges}, i, nil
}

func readClassRune(runes []rune, idx int) (rune, int, error) {
	if idx >= len(runes) {
		return 0, 0, fmt.Errorf("bad pattern: unterminated class")
	}
	if runes[idx] != '\\' {
		return runes[idx], idx + 1, nil
	}
	if idx+1 >= len(runes) {
		return 0, 0, fmt.Errorf("bad pattern: trailing escape in class")
	}
	return runes[idx+1], idx + 2, nil
}

func rangesIntersect(a, b []runeRange) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].hi < b[j].lo:
			i++
		case b[j].hi < a[i].lo:
			j++
		default:
			return true
		}
	}
	return false
}

func intersectRanges(a, b []runeRange) []runeRange {
	a = normalizeRanges(a)
	b = normalizeRanges(b)
	out := make([]runeRange, 0)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		lo := max(a[i].lo, b[j].lo)
		hi := min(a[i].hi, b[j].hi)
		if lo <= hi {
			out = append(out, runeRange{lo: lo, hi: hi})
		}
		if a[i].hi < b[j].hi {
			i++
		} else {
			j++
		}
	}
	return out
}

func subtractRanges(base, subtract []runeRange) []runeRange {
	base = normalizeRanges(base)
	subtract = normalizeRanges(subtract)

	out := make([]runeRange, 0, len(base))
	for _, b := range base {
		current := []runeRange{b}
		for _, s := range subtract {
			next := make([]runeRange, 0, len(current)+1)
			for _, c := range current {
				if s.hi < c.lo || s.lo > c.hi {
					next = append(next, c)
					continue
				}
				if s.lo > c.lo {
					next = append(next, runeRange{lo: c.lo, hi: s.lo - 1})
				}
				if s.hi < c.hi {
					next = append(next, runeRange{lo: s.hi + 1, hi: c.hi})
				}
			}
			current = next
			if len(current) == 0 {
				break
			}
		}
		out = append(out, current...)
	}
	return out
}

func normalizeRanges(ranges []runeRange) []runeRange {
	if len(ranges) <= 1 {
		return ranges
	}

	cp := append([]runeRange(nil), ranges...)
	sort.Slice(cp, func(i, j int) bool {
		if cp[i].lo == cp[j].lo {
			return cp[i].hi < cp[j].hi
		}
		return cp[i].lo < cp[j].lo
	})

	out := make([]runeRange, 0, len(cp))
	current := cp[0]
	for _, rr := range cp[1:] {
		if rr.lo <= current.hi+1 {
			if rr.hi > current.hi {
				current.hi = rr.hi
			}
			continue
		}
		out = append(out, current)
		current = rr
	}
	out = append(out, current)
	return out
}
