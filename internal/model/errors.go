package model

import (
	"context"
	"errors"
)

// Sentinel errors for every way a run can end short of completion. Stages
// wrap them with fmt.Errorf("...: %w") so callers can use errors.Is.
var (
	ErrInvalidFormat         = errors.New("invalid document format")
	ErrExtractionUnavailable = errors.New("text extraction unavailable")
	ErrDateNotFound          = errors.New("birth date not found")
	ErrUnderage              = errors.New("document holder is under age")
	ErrUploadFailed          = errors.New("document upload failed")
	ErrPersistence           = errors.New("verification record not saved")
	ErrAuthRequired          = errors.New("authentication required")
)

// ErrNotFound is returned by lookups of records that do not exist.
var ErrNotFound = errors.New("not found")

// Kind names an error class on the wire.
type Kind string

const (
	KindNone                  Kind = ""
	KindInvalidFormat         Kind = "InvalidFormat"
	KindExtractionUnavailable Kind = "ExtractionUnavailable"
	KindDateNotFound          Kind = "DateNotFound"
	KindUnderageRejection     Kind = "UnderageRejection"
	KindUploadError           Kind = "UploadError"
	KindPersistenceError      Kind = "PersistenceError"
	KindAuthRequired          Kind = "AuthRequired"
	KindInternal              Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidFormat, KindInvalidFormat},
	{ErrExtractionUnavailable, KindExtractionUnavailable},
	{ErrDateNotFound, KindDateNotFound},
	{ErrUnderage, KindUnderageRejection},
	{ErrUploadFailed, KindUploadError},
	{ErrPersistence, KindPersistenceError},
	{ErrAuthRequired, KindAuthRequired},
}

// KindOf classifies err. A nil error has KindNone and anything outside the
// taxonomy is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retriable reports whether resubmitting the same document may succeed.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindExtractionUnavailable, KindUploadError:
		return true
	default:
		return false
	}
}

// StatusFor maps an error kind to the outcome status callers see.
func StatusFor(kind Kind) OutcomeStatus {
	switch kind {
	case KindNone:
		return OutcomeCompleted
	case KindInvalidFormat, KindDateNotFound, KindExtractionUnavailable, KindUnderageRejection:
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

// IsTimeout reports whether err came from a cancelled or expired context.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
