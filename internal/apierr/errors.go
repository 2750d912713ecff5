// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package apierr carries abstract error kinds across component boundaries
// so the WebSocket Router can map them to the right outbound frame without
// inspecting component-internal error types.
package apierr

import "fmt"

// Kind classifies an error by recovery strategy rather than by origin.
type Kind string

const (
	KindAuth             Kind = "auth"
	KindProtocol         Kind = "protocol"
	KindBusy             Kind = "busy"
	KindChildExitNonzero Kind = "child_exit_nonzero"
	KindChildTimeout     Kind = "child_timeout"
	KindIO               Kind = "io"
	KindCatalog          Kind = "catalog"
	KindFatal            Kind = "fatal"
)

// Error wraps an underlying error with the abstract kind that determines
// how the WebSocket Router and session engines recover from it.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a Kind-tagged error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an existing error with an abstract kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails attaches a structured payload (e.g. exitCode, stderr, stdout,
// duration) for child_exit_nonzero/child_timeout errors.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// As reports whether err is (or wraps) an *Error of the given kind.
func As(err error, kind Kind) bool {
	var apiErr *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			apiErr = ae
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return apiErr != nil && apiErr.Kind == kind
}
