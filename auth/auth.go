// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidUserToken = errors.New("invalid user token")
	ErrInvalidTicket    = errors.New("invalid ticket")
)

// GenerateUserToken creates an HMAC-based token for a user
// This is deterministic and verifiable
func GenerateUserToken(userID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(userID))
	sum := h.Sum(nil)
	// Use URL-safe base64 and trim padding for cleaner keys
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}

// ValidateUserToken checks if the provided token is valid for the user
func ValidateUserToken(userID, token, salt string) error {
	if userID == "" || token == "" {
		return ErrInvalidUserToken
	}
	expected := GenerateUserToken(userID, salt)
	if !hmac.Equal([]byte(token), []byte(expected)) {
		return ErrInvalidUserToken
	}
	return nil
}

// TicketClaims bind a WebSocket connection to one participant of one session.
type TicketClaims struct {
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	jwt.RegisteredClaims
}

// IssueTicket signs a short-lived ticket for the real-time channel.
// Browsers cannot set headers on WebSocket upgrades, so the ticket travels
// in the query string.
func IssueTicket(userID, sessionID, participantID, secret string, ttl time.Duration, now time.Time) (string, error) {
	claims := &TicketClaims{
		UserID:        userID,
		SessionID:     sessionID,
		ParticipantID: participantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign ticket: %w", err)
	}
	return signed, nil
}

// ParseTicket validates the signature and expiry and returns the claims.
func ParseTicket(ticket, secret string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	_, err := jwt.ParseWithClaims(ticket, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if claims.SessionID == "" || claims.ParticipantID == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}
