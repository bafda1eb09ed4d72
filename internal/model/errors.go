package model

import (
	"errors"
	"fmt"
)

// Sentinels for the sync error taxonomy. Match with errors.Is.
var (
	ErrAuthFailure    = errors.New("auth failure")
	ErrTransientAPI   = errors.New("transient api error")
	ErrFatalAPI       = errors.New("fatal api error")
	ErrStore          = errors.New("store error")
	ErrSyncIncomplete = errors.New("sync incomplete")
)

// APIErrorKind classifies a remote API failure.
type APIErrorKind int

const (
	KindFatal APIErrorKind = iota
	KindTransient
	KindAuth
)

func (k APIErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	default:
		return "fatal"
	}
}

// APIError wraps a failed remote call with its classification.
type APIError struct {
	Kind   APIErrorKind
	Op     string // "list", "get", ...
	Status int    // HTTP status when known
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s api error (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s api error: %v", e.Op, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrTransientAPI:
		return e.Kind == KindTransient
	case ErrAuthFailure:
		return e.Kind == KindAuth
	case ErrFatalAPI:
		return e.Kind == KindFatal
	}
	return false
}

// StoreError wraps a local durable-store failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// AuthError reports a credential acquisition or refresh failure.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth failure: " + e.Reason
	}
	return fmt.Sprintf("auth failure: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuthFailure }
