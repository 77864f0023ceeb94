package service

import "errors"

// Backend failure categories. Each wraps the underlying cause, so callers can
// test for both with errors.Is.
var (
	ErrUpdate = errors.New("presence update failed")
	ErrRead   = errors.New("presence read failed")
	ErrSend   = errors.New("message send failed")
	ErrFetch  = errors.New("message fetch failed")
)

// Validation failures, raised before any backend call.
var (
	ErrEmptyContent   = errors.New("message content cannot be empty")
	ErrContentTooLong = errors.New("message content is too long")
	ErrInvalidStatus  = errors.New("invalid presence status")
	ErrSelfChat       = errors.New("cannot create chat with yourself")
	ErrNotParticipant = errors.New("user is not a participant in this chat")
)
