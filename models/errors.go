// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "fmt"

// Error is a client-facing failure. Two errors match under errors.Is when
// their codes match, so the sentinels below work as kinds.
type Error struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Error kinds
var (
	ErrValidation        = &Error{Code: "validation_error"}
	ErrPermission        = &Error{Code: "permission_error"}
	ErrInvalidTransition = &Error{Code: "invalid_transition"}
	ErrInvalidValue      = &Error{Code: "invalid_value"}
	ErrIncompleteVoting  = &Error{Code: "incomplete_voting"}
	ErrImmutableRecord   = &Error{Code: "immutable_record"}
	ErrConfidentiality   = &Error{Code: "confidentiality_error"}
	ErrLimitExceeded     = &Error{Code: "limit_exceeded"}
	ErrSessionGone       = &Error{Code: "session_gone"}
	ErrNotFound          = &Error{Code: "not_found"}
)

// Newf returns a new error of the given kind with a formatted message.
func Newf(kind *Error, format string, args ...any) *Error {
	return &Error{Code: kind.Code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured details for the error body.
func (e *Error) WithDetails(kv ...any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(kv)/2)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e.Details[key] = kv[i+1]
	}
	return e
}
