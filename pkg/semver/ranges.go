// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Containment works over a normalized union of intervals. Masterminds keeps its
// parsed constraint tree private, so the text is re-read here; the grammar is
// the one Masterminds accepts.

var (
	hyphenRange = regexp.MustCompile(`(v?[0-9xX*]+(?:\.[0-9xX*]+){0,2}(?:-[0-9A-Za-z.-]+)?)\s+-\s+(v?[0-9xX*]+(?:\.[0-9xX*]+){0,2}(?:-[0-9A-Za-z.-]+)?)`)
	rangeTerm   = regexp.MustCompile(`(!=|>=|=>|<=|=<|~>|[=<>~^])?\s*(v?[0-9xX*]+(?:\.[0-9xX*]+){0,2}(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?)`)
)

type (
	// bound is one end of an interval; a nil version is unbounded.
	bound struct {
		v    *mm.Version
		incl bool
	}

	interval struct {
		lo, hi bound
	}

	// partial is version text with its wildcard level: 0 means every
	// component is wild, 3 means a complete version.
	partial struct {
		major, minor, patch uint64
		pre                 string
		fixed               int
	}
)

// Within reports whether every version admitted by c is also admitted by outer.
//
// Identical constraint text is always within itself. Prerelease filtering is
// not modelled: "<2.0.0" and "<2.0.0-0" are treated as different upper bounds.
func (c Constraint) Within(outer Constraint) bool {
	if c.c == nil {
		return true
	}
	if outer.c == nil {
		return false
	}
	if c.raw == outer.raw {
		return true
	}
	inner, err := intervalsOf(c.raw)
	if err != nil {
		return false
	}
	cover, err := intervalsOf(outer.raw)
	if err != nil {
		return false
	}
	cover = merge(cover)
	for _, in := range inner {
		if !slices.ContainsFunc(cover, func(out interval) bool { return contains(out, in) }) {
			return false
		}
	}
	return true
}

func intervalsOf(raw string) ([]interval, error) {
	var union []interval
	for group := range strings.SplitSeq(raw, "||") {
		group = strings.TrimSpace(group)
		set := []interval{{}}
		ranges := hyphenRange.FindAllStringSubmatch(group, -1)
		for _, m := range ranges {
			lo, err := termIntervals(">=", m[1])
			if err != nil {
				return nil, err
			}
			hi, err := termIntervals("<=", m[2])
			if err != nil {
				return nil, err
			}
			set = intersect(intersect(set, lo), hi)
		}
		group = hyphenRange.ReplaceAllString(group, " ")
		matches := rangeTerm.FindAllStringSubmatch(group, -1)
		if len(matches) == 0 && len(ranges) == 0 {
			return nil, fmt.Errorf("semver: no terms in %q", group)
		}
		for _, m := range matches {
			term, err := termIntervals(m[1], m[2])
			if err != nil {
				return nil, err
			}
			set = intersect(set, term)
		}
		union = append(union, set...)
	}
	return nonEmpty(union), nil
}

func termIntervals(op, text string) ([]interval, error) {
	p, err := parsePartial(text)
	if err != nil {
		return nil, err
	}
	lower, upper := p.lower(), p.upper()
	everything := []interval{{}}
	switch op {
	case "", "=":
		if p.fixed == 3 {
			return []interval{{lo: bound{lower, true}, hi: bound{lower, true}}}, nil
		}
		return []interval{{lo: bound{lower, true}, hi: bound{upper, false}}}, nil
	case "!=":
		if p.fixed == 0 {
			return nil, nil
		}
		if p.fixed == 3 {
			return []interval{
				{hi: bound{lower, false}},
				{lo: bound{lower, false}},
			}, nil
		}
		return []interval{
			{hi: bound{lower, false}},
			{lo: bound{upper, true}},
		}, nil
	case ">":
		if p.fixed == 0 {
			return nil, nil
		}
		if p.fixed == 3 {
			return []interval{{lo: bound{lower, false}}}, nil
		}
		return []interval{{lo: bound{upper, true}}}, nil
	case ">=", "=>":
		if p.fixed == 0 {
			return everything, nil
		}
		return []interval{{lo: bound{lower, true}}}, nil
	case "<":
		if p.fixed == 0 {
			return nil, nil
		}
		return []interval{{hi: bound{lower, false}}}, nil
	case "<=", "=<":
		if p.fixed == 0 {
			return everything, nil
		}
		if p.fixed == 3 {
			return []interval{{hi: bound{lower, true}}}, nil
		}
		return []interval{{hi: bound{upper, false}}}, nil
	case "~", "~>":
		if p.fixed == 0 {
			return everything, nil
		}
		hi := p
		if p.fixed == 1 {
			hi.fixed = 1
		} else {
			hi.fixed = 2
		}
		return []interval{{lo: bound{lower, true}, hi: bound{hi.upper(), false}}}, nil
	case "^":
		if p.fixed == 0 {
			return everything, nil
		}
		var hi *mm.Version
		switch {
		case p.major > 0 || p.fixed == 1:
			hi = mm.New(p.major+1, 0, 0, "", "")
		case p.minor > 0 || p.fixed == 2:
			hi = mm.New(0, p.minor+1, 0, "", "")
		default:
			hi = mm.New(0, 0, p.patch+1, "", "")
		}
		return []interval{{lo: bound{lower, true}, hi: bound{hi, false}}}, nil
	default:
		return nil, fmt.Errorf("semver: unsupported operator %q", op)
	}
}

func parsePartial(text string) (partial, error) {
	text = strings.TrimPrefix(text, "v")
	if i := strings.IndexByte(text, '+'); i >= 0 {
		text = text[:i]
	}
	var p partial
	if i := strings.IndexByte(text, '-'); i >= 0 {
		p.pre = text[i+1:]
		text = text[:i]
	}
	parts := strings.Split(text, ".")
	for i, part := range parts {
		if part == "x" || part == "X" || part == "*" {
			break
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return partial{}, fmt.Errorf("semver: bad component %q", part)
		}
		switch i {
		case 0:
			p.major = n
		case 1:
			p.minor = n
		case 2:
			p.patch = n
		}
		p.fixed = i + 1
	}
	if p.fixed < 3 {
		p.pre = ""
	}
	return p, nil
}

func (p partial) lower() *mm.Version {
	return mm.New(p.major, p.minor, p.patch, p.pre, "")
}

// upper is the exclusive end of the range the wildcard level spans.
func (p partial) upper() *mm.Version {
	switch p.fixed {
	case 0:
		return nil
	case 1:
		return mm.New(p.major+1, 0, 0, "", "")
	case 2:
		return mm.New(p.major, p.minor+1, 0, "", "")
	default:
		return mm.New(p.major, p.minor, p.patch+1, "", "")
	}
}

func intersect(a, b []interval) []interval {
	var out []interval
	for _, x := range a {
		for _, y := range b {
			iv := interval{lo: maxLower(x.lo, y.lo), hi: minUpper(x.hi, y.hi)}
			if !empty(iv) {
				out = append(out, iv)
			}
		}
	}
	return out
}

func nonEmpty(in []interval) []interval {
	return slices.DeleteFunc(in, empty)
}

func empty(iv interval) bool {
	if iv.lo.v == nil || iv.hi.v == nil {
		return false
	}
	cmp := iv.lo.v.Compare(iv.hi.v)
	return cmp > 0 || (cmp == 0 && !(iv.lo.incl && iv.hi.incl))
}

func maxLower(a, b bound) bound {
	if a.v == nil {
		return b
	}
	if b.v == nil {
		return a
	}
	switch cmp := a.v.Compare(b.v); {
	case cmp > 0:
		return a
	case cmp < 0:
		return b
	default:
		return bound{a.v, a.incl && b.incl}
	}
}

func minUpper(a, b bound) bound {
	if a.v == nil {
		return b
	}
	if b.v == nil {
		return a
	}
	switch cmp := a.v.Compare(b.v); {
	case cmp < 0:
		return a
	case cmp > 0:
		return b
	default:
		return bound{a.v, a.incl && b.incl}
	}
}

// merge sorts intervals by lower bound and joins those that overlap or touch.
func merge(in []interval) []interval {
	if len(in) == 0 {
		return nil
	}
	sorted := slices.Clone(in)
	slices.SortFunc(sorted, func(a, b interval) int { return compareLower(a.lo, b.lo) })
	out := []interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if touches(last.hi, iv.lo) {
			if compareUpper(iv.hi, last.hi) > 0 {
				last.hi = iv.hi
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// touches reports whether an interval ending at hi joins one starting at lo.
func touches(hi, lo bound) bool {
	if hi.v == nil || lo.v == nil {
		return true
	}
	cmp := hi.v.Compare(lo.v)
	return cmp > 0 || (cmp == 0 && (hi.incl || lo.incl))
}

func contains(out, in interval) bool {
	return compareLower(out.lo, in.lo) <= 0 && compareUpper(out.hi, in.hi) >= 0
}

// compareLower orders lower bounds: unbounded first, inclusive before exclusive.
func compareLower(a, b bound) int {
	switch {
	case a.v == nil && b.v == nil:
		return 0
	case a.v == nil:
		return -1
	case b.v == nil:
		return 1
	}
	if cmp := a.v.Compare(b.v); cmp != 0 {
		return cmp
	}
	switch {
	case a.incl == b.incl:
		return 0
	case a.incl:
		return -1
	default:
		return 1
	}
}

// compareUpper orders upper bounds: unbounded last, inclusive after exclusive.
func compareUpper(a, b bound) int {
	switch {
	case a.v == nil && b.v == nil:
		return 0
	case a.v == nil:
		return 1
	case b.v == nil:
		return -1
	}
	if cmp := a.v.Compare(b.v); cmp != 0 {
		return cmp
	}
	switch {
	case a.incl == b.incl:
		return 0
	case a.incl:
		return 1
	default:
		return -1
	}
}
