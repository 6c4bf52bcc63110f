// Package glob decides whether two glob-like path patterns can match the
// same concrete path. Reservations conflict on overlap, so the test must
// never under-approximate: ambiguous cases count as overlapping.
//
// Patterns are slash-separated. Within a segment, * matches any run of
// non-separator characters, ? matches one, [a-z] and [^a-z] match classes.
// A segment consisting of ** matches zero or more whole segments.
package glob

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	maxTokens    = 64
	maxWildcards = 12
)

// Validate rejects malformed or pathologically complex patterns before they
// enter the reservation table.
func Validate(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("empty pattern")
	}
	totalTokens := 0
	totalWildcards := 0
	for _, seg := range splitPattern(pattern) {
		if seg == "**" {
			totalWildcards++
			continue
		}
		tokens, err := parseSegment(seg)
		if err != nil {
			return err
		}
		totalTokens += len(tokens)
		for _, t := range tokens {
			if t.kind == tokenStar || t.kind == tokenAny {
				totalWildcards++
			}
		}
	}
	if totalTokens > maxTokens {
		return fmt.Errorf("pattern too complex: %d tokens exceeds limit of %d", totalTokens, maxTokens)
	}
	if totalWildcards > maxWildcards {
		return fmt.Errorf("pattern too complex: %d wildcards exceeds limit of %d", totalWildcards, maxWildcards)
	}
	return nil
}

// Overlaps is the conservative form of PatternsOverlap: any parse error on
// either side is treated as a possible overlap rather than silently letting
// two agents edit the same file.
func Overlaps(a, b string) bool {
	overlap, err := PatternsOverlap(a, b)
	if err != nil {
		return true
	}
	return overlap
}

// PatternsOverlap reports whether a concrete path exists matching both
// patterns. The check runs a product construction over path segments, with
// ** acting as a star over whole segments; per-segment compatibility is a
// character-level product of the two segment automata.
func PatternsOverlap(a, b string) (bool, error) {
	segsA := splitPattern(a)
	segsB := splitPattern(b)

	type state struct {
		i int
		j int
	}

	// Epsilon closure over ** segments: a ** may match zero segments, so a
	// state can always step past it without consuming from the other side.
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
			if curr.i < len(segsA) && segsA[curr.i] == "**" {
				stack = append(stack, state{i: curr.i + 1, j: curr.j})
			}
			if curr.j < len(segsB) && segsB[curr.j] == "**" {
				stack = append(stack, state{i: curr.i, j: curr.j + 1})
			}
		}
	}

	seen := make(map[state]struct{})
	queue := make([]state, 0, (len(segsA)+1)*(len(segsB)+1))
	addClosure(state{}, seen, &queue)

	for idx := 0; idx < len(queue); idx++ {
		curr := queue[idx]
		if curr.i == len(segsA) && curr.j == len(segsB) {
			return true, nil
		}
		if curr.i == len(segsA) || curr.j == len(segsB) {
			continue
		}

		segA, segB := segsA[curr.i], segsB[curr.j]
		compatible, err := segmentsCompatible(segA, segB)
		if err != nil {
			return false, err
		}
		if !compatible {
			continue
		}

		next := state{i: curr.i + 1, j: curr.j + 1}
		if segA == "**" {
			next.i = curr.i // ** consumes the segment and may consume more
		}
		if segB == "**" {
			next.j = curr.j
		}
		if segA == "**" && segB == "**" {
			// Both stars: let each side also advance alone.
			addClosure(state{i: curr.i + 1, j: curr.j}, seen, &queue)
			addClosure(state{i: curr.i, j: curr.j + 1}, seen, &queue)
			continue
		}
		addClosure(next, seen, &queue)
	}

	return false, nil
}

// segmentsCompatible reports whether one concrete segment can match both
// segment patterns. A ** matches any single segment.
func segmentsCompatible(a, b string) (bool, error) {
	if a == "**" || b == "**" {
		return true, nil
	}
	return segmentPatternsOverlap(a, b)
}

func splitPattern(p string) []string {
	return strings.Split(strings.Trim(filepath.ToSlash(p), "/"), "/")
}
