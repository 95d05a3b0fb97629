// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides the token glue used to identify callers.

# User Tokens

User tokens use HMAC-SHA256 to create deterministic, verifiable keys:

	token := auth.GenerateUserToken(userID, salt)
	err := auth.ValidateUserToken(userID, token, salt)

The token is URL-safe base64 encoded without padding. Since it's deterministic,
the same user ID and salt always produce the same token. This allows validation
without storing the token in the database. Requests carry it in X-User-Token
next to X-User-ID.

# Tickets

Tickets are HS256 JWTs returned when a user joins a session. They identify the
participant on the WebSocket upgrade:

	ticket, err := auth.IssueTicket(userID, sessionID, participantID, secret, ttl, time.Now())
	claims, err := auth.ParseTicket(ticket, secret)

Magic-link delivery and long-lived credentials are not handled here.
*/
package auth
