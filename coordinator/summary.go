// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package coordinator

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
)

// Summarize computes the reveal statistics. Average and median use numeric
// cards only; "?" shows up in the distribution but not in the numbers.
func Summarize(storyID string, list []models.RevealedVote, scale models.Scale, forced bool, now time.Time) models.RevealResult {
	result := models.RevealResult{
		StoryID:      storyID,
		Votes:        list,
		Distribution: make(map[models.Points]int),
		Forced:       forced,
		RevealedAt:   db.FromMillis(db.Millis(now)),
		InputsHash:   inputsHash(list),
	}

	var numbers []float64
	for _, v := range list {
		result.Distribution[v.Points]++
		if n, ok := v.Points.Numeric(); ok {
			numbers = append(numbers, n)
		}
	}

	if len(numbers) > 0 {
		sum := 0.0
		for _, n := range numbers {
			sum += n
		}
		avg := sum / float64(len(numbers))
		result.Average = &avg

		sort.Float64s(numbers)
		mid := len(numbers) / 2
		median := numbers[mid]
		if len(numbers)%2 == 0 {
			median = (numbers[mid-1] + numbers[mid]) / 2
		}
		result.Median = &median
	}

	result.Consensus = len(list) > 0 && len(result.Distribution) == 1
	switch {
	case result.Consensus:
		p := list[0].Points
		result.FinalPoints = &p
	case result.Average != nil:
		if p, ok := scale.Ceil(*result.Average); ok {
			result.FinalPoints = &p
		}
	}
	return result
}

// inputsHash fingerprints the (participant, points) pairs a result was
// computed from.
func inputsHash(list []models.RevealedVote) string {
	pairs := make([]string, len(list))
	for i, v := range list {
		pairs[i] = v.ParticipantID + ":" + string(v.Points)
	}
	sort.Strings(pairs)

	h := sha256.New()
	for _, p := range pairs {
		h.Write([]byte(p))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func saveSnapshot(ctx context.Context, q db.Querier, result models.RevealResult, now time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO result_snapshot (id, story_id, computed_at, inputs_hash, payload)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), result.StoryID, db.Millis(now), result.InputsHash, string(payload))
	if err != nil {
		return fmt.Errorf("insert result snapshot: %w", err)
	}
	return nil
}

// loadSnapshot returns the stored reveal of a story, or nil.
func loadSnapshot(ctx context.Context, q db.Querier, storyID string) (*models.RevealResult, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT payload FROM result_snapshot WHERE story_id = ?`, storyID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query result snapshot: %w", err)
	}

	var result models.RevealResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode result snapshot: %w", err)
	}
	return &result, nil
}
