// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Points is one card of the configured scale, e.g. "5" or "?".
type Points string

// Unknown is the "no idea" card. It is stored and counted but has no numeric value.
const Unknown Points = "?"

// Numeric returns the numeric value of the card, if it has one.
func (p Points) Numeric() (float64, bool) {
	v, err := strconv.ParseFloat(string(p), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Scale is the ordered set of cards a vote may use.
type Scale []Points

// ParseScale parses a comma separated list such as "1,2,3,5,8,13,21,?".
func ParseScale(s string) (Scale, error) {
	var scale Scale
	seen := make(map[Points]bool)
	for _, part := range strings.Split(s, ",") {
		p := Points(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		if seen[p] {
			return nil, errors.New("duplicate card in point scale: " + string(p))
		}
		if _, ok := p.Numeric(); !ok && p != Unknown {
			return nil, errors.New("point scale card must be numeric or ?: " + string(p))
		}
		seen[p] = true
		scale = append(scale, p)
	}
	if len(scale) == 0 {
		return nil, errors.New("point scale is empty")
	}
	return scale, nil
}

// DefaultScale is the Fibonacci scale.
func DefaultScale() Scale {
	scale, _ := ParseScale(DefaultPointScale)
	return scale
}

// Parse validates a client supplied value against the scale.
func (s Scale) Parse(v string) (Points, error) {
	p := Points(strings.TrimSpace(v))
	for _, c := range s {
		if c == p {
			return p, nil
		}
	}
	return "", Newf(ErrInvalidValue, "points %q are not on the scale", v).WithDetails("scale", s)
}

// Ceil returns the smallest numeric card >= v.
func (s Scale) Ceil(v float64) (Points, bool) {
	var numeric []float64
	byValue := make(map[float64]Points)
	for _, c := range s {
		if n, ok := c.Numeric(); ok {
			numeric = append(numeric, n)
			byValue[n] = c
		}
	}
	sort.Float64s(numeric)
	for _, n := range numeric {
		if n >= v {
			return byValue[n], true
		}
	}
	if len(numeric) == 0 {
		return "", false
	}
	return byValue[numeric[len(numeric)-1]], true
}
