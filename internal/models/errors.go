package models

import (
	"errors"
	"fmt"
)

// Kind is the failure category of a pipeline error
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindDocumentLoad   Kind = "document_load"
	KindNotInitialized Kind = "not_initialized"
	KindEmbedding      Kind = "embedding"
	KindGeneration     Kind = "generation"
	KindInternal       Kind = "internal"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrDocumentLoad   = errors.New("document load error")
	ErrNotInitialized = errors.New("pipeline not initialized")
	ErrEmbedding      = errors.New("embedding failure")
	ErrGeneration     = errors.New("generation failed")

	// configuration subtypes
	ErrTemplate           = fmt.Errorf("%w: malformed template", ErrConfiguration)
	ErrPersonaNotFound    = fmt.Errorf("%w: persona not found", ErrConfiguration)
	ErrPersonaUnavailable = fmt.Errorf("%w: persona not available", ErrConfiguration)
	ErrEmptyQuestion      = fmt.Errorf("%w: question is empty", ErrConfiguration)

	// ErrIndexNotFound is returned by a store that holds no complete index
	ErrIndexNotFound = errors.New("vector index not found")
)

var kindSentinels = map[Kind]error{
	KindConfiguration:  ErrConfiguration,
	KindDocumentLoad:   ErrDocumentLoad,
	KindNotInitialized: ErrNotInitialized,
	KindEmbedding:      ErrEmbedding,
	KindGeneration:     ErrGeneration,
}

// Error carries the kind and operation of a failure together with its cause
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that failed
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind, so callers can use
// errors.Is(err, ErrGeneration) without caring about the cause.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf reports the failure category of err
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}
