// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package users stores the people who facilitate and join sessions.
// Identity is keyed by email: registering an address that already exists
// returns the existing user.
package users
