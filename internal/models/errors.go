package models

import "errors"

// Store-level sentinels shared by the SQL repositories and the in-memory
// catalog. Services translate them into typed API errors.
var (
	ErrNotFound          = errors.New("record not found")
	ErrCapacityExceeded  = errors.New("module capacity exceeded")
	ErrAlreadyEnrolled   = errors.New("user already enrolled in module")
	ErrDuplicateIdentity = errors.New("duplicate identity")
)
