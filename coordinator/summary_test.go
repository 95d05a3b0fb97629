// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package coordinator

import (
	"testing"
	"time"

	"github.com/danielhkuo/censeo/models"
)

func votesOf(points ...models.Points) []models.RevealedVote {
	list := make([]models.RevealedVote, len(points))
	for i, p := range points {
		list[i] = models.RevealedVote{ParticipantID: string(rune('a' + i)), User: string(rune('A' + i)), Points: p}
	}
	return list
}

func TestSummarize(t *testing.T) {
	scale := models.DefaultScale()
	now := time.Date(2025, 3, 1, 9, 0, 0, 123456789, time.UTC)

	ptr := func(f float64) *float64 { return &f }
	pts := func(p models.Points) *models.Points { return &p }

	tests := []struct {
		name      string
		votes     []models.RevealedVote
		average   *float64
		median    *float64
		consensus bool
		final     *models.Points
	}{
		{"no votes", votesOf(), nil, nil, false, nil},
		{"consensus", votesOf("5", "5", "5"), ptr(5), ptr(5), true, pts("5")},
		{"rounds up to the scale", votesOf("5", "5", "8"), ptr(6), ptr(5), false, pts("8")},
		{"even median", votesOf("1", "2", "3", "5"), ptr(2.75), ptr(2.5), false, pts("3")},
		{"unknown ignored in numbers", votesOf("3", "?", "5"), ptr(4), ptr(4), false, pts("5")},
		{"only unknown", votesOf("?", "?"), nil, nil, true, pts("?")},
		{"mixed unknown", votesOf("?", "13"), ptr(13), ptr(13), false, pts("13")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize("story-1", tt.votes, scale, false, now)

			if !floatEq(got.Average, tt.average) {
				t.Errorf("average = %v, want %v", deref(got.Average), deref(tt.average))
			}
			if !floatEq(got.Median, tt.median) {
				t.Errorf("median = %v, want %v", deref(got.Median), deref(tt.median))
			}
			if got.Consensus != tt.consensus {
				t.Errorf("consensus = %v, want %v", got.Consensus, tt.consensus)
			}
			if (got.FinalPoints == nil) != (tt.final == nil) ||
				(got.FinalPoints != nil && *got.FinalPoints != *tt.final) {
				t.Errorf("final points = %v, want %v", got.FinalPoints, tt.final)
			}

			total := 0
			for _, n := range got.Distribution {
				total += n
			}
			if total != len(tt.votes) {
				t.Errorf("distribution covers %d votes, want %d", total, len(tt.votes))
			}
			if !got.RevealedAt.Equal(now.Truncate(time.Millisecond)) {
				t.Errorf("revealed_at = %v, want millisecond precision", got.RevealedAt)
			}
		})
	}
}

func TestInputsHashIgnoresOrder(t *testing.T) {
	a := votesOf("3", "5", "8")
	b := []models.RevealedVote{a[2], a[0], a[1]}

	if inputsHash(a) != inputsHash(b) {
		t.Error("Expected the hash to ignore vote order")
	}

	c := votesOf("3", "5", "13")
	if inputsHash(a) == inputsHash(c) {
		t.Error("Expected different votes to hash differently")
	}
}

func floatEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
