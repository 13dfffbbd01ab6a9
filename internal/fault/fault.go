// Package fault defines the classified service errors shared by the store,
// the lifecycle manager, and the HTTP layer.
//
// Every failure that crosses a component boundary carries a [Class] and a
// stable machine-readable code (e.g., "not_ready_to_publish") so that callers
// can branch programmatically instead of parsing prose.
package fault

import (
	"errors"
	"fmt"
)

// Class groups errors by how a caller should react to them.
type Class string

const (
	// Validation covers malformed input rejected before any work starts:
	// unparseable audio containers, non-numeric or non-positive parameters,
	// unsupported content types.
	Validation Class = "validation"

	// ResourceUnavailable means a required model or backend is unreachable.
	// Distinct from a mid-pipeline stage fallback: this is rejected before
	// any pipeline stage runs.
	ResourceUnavailable Class = "resource_unavailable"

	// NotFound means the addressed episode or shard does not exist.
	NotFound Class = "not_found"

	// PreconditionFailed means the entity exists but its state forbids the
	// operation (deleted shard targeted for publish, publish without force
	// on a shard that is not ready).
	PreconditionFailed Class = "precondition_failed"

	// Internal is any unclassified failure during assembly or persistence.
	Internal Class = "internal"
)

// Well-known machine-readable codes.
const (
	CodeInvalidAudio      = "invalid_audio"
	CodeInvalidAudioType  = "invalid_audio_type"
	CodeInvalidParameters = "invalid_parameters"
	CodeModelUnavailable  = "model_unavailable"
	CodeEpisodeNotFound   = "episode_not_found"
	CodeShardNotFound     = "shard_not_found"
	CodeProfileNotFound   = "profile_not_found"
	CodeDeletedShard      = "deleted_shard"
	CodeNotReadyToPublish = "not_ready_to_publish"
	CodeNoInvitationsLeft = "no_invitations_remaining"
	CodeWriteConflict     = "write_conflict"
	CodeInternal          = "internal_error"
)

// Error is a classified service error.
type Error struct {
	Class   Class
	Code    string
	Message string
	Err     error // wrapped cause, may be nil
}

// New creates an [Error] with the given class, code, and message.
func New(class Class, code, message string) *Error {
	return &Error{Class: class, Code: code, Message: message}
}

// Newf creates an [Error] with a formatted message.
func Newf(class Class, code, format string, args ...any) *Error {
	return &Error{Class: class, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an [Error] wrapping cause. The cause is reachable through
// [errors.Unwrap] so sentinel checks keep working.
func Wrap(class Class, code, message string, cause error) *Error {
	return &Error{Class: class, Code: code, Message: message, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Class, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Class, e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// ClassOf returns the [Class] of err, or [Internal] when err carries no
// classification. A nil err yields the empty class.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return Internal
}

// CodeOf returns the machine-readable code of err, or [CodeInternal] when err
// carries none. A nil err yields the empty string.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// IsClass reports whether err carries the given class.
func IsClass(err error, class Class) bool {
	return ClassOf(err) == class
}
