package beefdb

import (
	"errors"
	"fmt"
)

// Error represents a beefdb error with an error code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("beefdb: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("beefdb: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode identifies the kind of failure.
type ErrorCode int

const (
	// Success indicates the operation completed.
	Success ErrorCode = 0

	// ErrIO indicates an underlying file I/O error.
	ErrIO ErrorCode = -(iota + 30000)

	// ErrShortRead indicates a positioned read returned fewer bytes
	// than a full page.
	ErrShortRead

	// ErrShortWrite indicates a positioned write wrote fewer bytes
	// than requested.
	ErrShortWrite

	// ErrInvalidVersion indicates the file was written by a newer
	// format version.
	ErrInvalidVersion

	// ErrInvalidMagic indicates the file is not a beefdb database.
	ErrInvalidMagic

	// ErrEmptyFile indicates the data file has no header yet.
	ErrEmptyFile

	// ErrEmptyTree indicates the database holds no entries.
	ErrEmptyTree

	// ErrUnmappedEnv indicates the environment has no memory mapping.
	ErrUnmappedEnv

	// ErrInvalidFlag indicates an unsupported flag combination.
	ErrInvalidFlag

	// ErrInvalidKey indicates a nil key or value, or a key length
	// outside [1, MaxKeySize).
	ErrInvalidKey

	// ErrReadersMaxedOut indicates all reader slots are taken.
	ErrReadersMaxedOut

	// ErrReadOnlyTxn indicates a mutation was attempted in a read-only
	// transaction.
	ErrReadOnlyTxn

	// ErrReadOnlyEnv indicates a write transaction was requested on a
	// read-only environment.
	ErrReadOnlyEnv

	// ErrInvalidPageType indicates a page's flags do not match the
	// operation (e.g. updating a child pointer on a leaf).
	ErrInvalidPageType

	// ErrIndexOverflow indicates a node index at or past num_keys.
	ErrIndexOverflow

	// ErrKeyExist indicates the key is already present and KOverwrite
	// was not given.
	ErrKeyExist

	// ErrNoSpace indicates a page cannot hold another node. It is
	// handled internally by splitting and never escapes to callers.
	ErrNoSpace

	// ErrKeyNotFound indicates the key is not in the database.
	ErrKeyNotFound

	// ErrCursorUninitialized indicates Next on a cursor whose stack is
	// empty.
	ErrCursorUninitialized

	// ErrCursorInitialized indicates Init on an already positioned
	// cursor.
	ErrCursorInitialized

	// ErrEOF indicates the cursor moved past the last entry.
	ErrEOF

	// ErrBrokenTxn indicates the transaction observed an internal
	// error and only Abort is allowed.
	ErrBrokenTxn

	// ErrPageNotFound indicates a page number resolved to nothing
	// (corruption or a stale reference).
	ErrPageNotFound

	// ErrCorrupted indicates the file content is inconsistent.
	ErrCorrupted
)

var errorMessages = map[ErrorCode]string{
	Success:                "success",
	ErrIO:                  "file I/O error",
	ErrShortRead:           "short read",
	ErrShortWrite:          "short write",
	ErrInvalidVersion:      "database version too new",
	ErrInvalidMagic:        "not a beefdb database",
	ErrEmptyFile:           "empty database file",
	ErrEmptyTree:           "tree is empty",
	ErrUnmappedEnv:         "environment is not mapped",
	ErrInvalidFlag:         "invalid flag",
	ErrInvalidKey:          "invalid key or value",
	ErrReadersMaxedOut:     "no free reader slots",
	ErrReadOnlyTxn:         "write attempted in read-only transaction",
	ErrReadOnlyEnv:         "environment is read-only",
	ErrInvalidPageType:     "unexpected page type",
	ErrIndexOverflow:       "node index out of range",
	ErrKeyExist:            "key already exists",
	ErrNoSpace:             "page has no space",
	ErrKeyNotFound:         "key not found",
	ErrCursorUninitialized: "cursor is not initialized",
	ErrCursorInitialized:   "cursor is already initialized",
	ErrEOF:                 "no more entries",
	ErrBrokenTxn:           "transaction is broken",
	ErrPageNotFound:        "page not found",
	ErrCorrupted:           "database is corrupted",
}

// NewError creates a new Error with the given code.
func NewError(code ErrorCode) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = fmt.Sprintf("unknown error code %d", code)
	}
	return &Error{Code: code, Message: msg}
}

// Errorf creates a new Error with extra context appended to the
// code's message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	e := NewError(code)
	e.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	return e
}

// WrapError creates a new Error wrapping another error.
func WrapError(code ErrorCode, err error) *Error {
	e := NewError(code)
	e.Err = err
	return e
}

// Code returns the error code from an error, or ErrIO for a foreign
// error.
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrIO
}

// IsNotFound returns true if the error is ErrKeyNotFound.
func IsNotFound(err error) bool {
	return Code(err) == ErrKeyNotFound
}

// IsKeyExist returns true if the error is ErrKeyExist.
func IsKeyExist(err error) bool {
	return Code(err) == ErrKeyExist
}

// IsEOF returns true if the error is ErrEOF.
func IsEOF(err error) bool {
	return Code(err) == ErrEOF
}

// isNoSpace reports the internal page-full condition that triggers a
// split.
func isNoSpace(err error) bool {
	return Code(err) == ErrNoSpace
}
