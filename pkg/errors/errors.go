// Package errors defines the tagged error kinds shared by every layer of the
// storage engine. Every public operation fails with one of these kinds rather
// than an opaque error, so callers can branch on Kind(err) instead of string
// matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how a caller should react, not by which
// package raised it.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindCorruption
	KindIO
	KindCancelled
	KindTimeout
	KindDeadlock
	KindConflict
	KindInvalidArgument
	KindInvalidState
	KindDisposed
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindCorruption:
		return "corruption"
	case KindIO:
		return "io_error"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindDeadlock:
		return "deadlock"
	case KindConflict:
		return "conflict"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidState:
		return "invalid_state"
	case KindDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Kinder is implemented by every error type in this package so KindOf can
// classify wrapped errors uniformly.
type Kinder interface {
	Kind() Kind
}

// Error is the generic tagged error. Most failures can be expressed with
// New/Wrap directly; a handful of call sites use a named struct below when
// the message needs structured fields (table name, key, etc).
type Error struct {
	kind Kind
	Op   string // operation that failed, e.g. "wal.WriteEntry"
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Kind() Kind    { return e.kind }

// New builds a tagged error carrying no underlying cause.
func New(kind Kind, op, msg string) error {
	return &Error{kind: kind, Op: op, Msg: msg}
}

// Wrap tags an existing error with a kind and operation, preserving it as the
// Unwrap() cause.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, Op: op, Err: err}
}

// KindOf walks the Unwrap chain looking for a Kinder. Errors with no tagged
// kind classify as KindUnknown.
func KindOf(err error) Kind {
	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// --- Structured domain errors -------------------------------------------------
//
// These predate the generic Error type (one struct per failure, in the
// teacher repo's style) and are kept for call sites that want named fields
// instead of a formatted message.

type TableAlreadyExistsError struct {
	Name string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}
func (e *TableAlreadyExistsError) Kind() Kind { return KindAlreadyExists }

type TableNotFoundError struct {
	Name string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Name)
}
func (e *TableNotFoundError) Kind() Kind { return KindNotFound }

type TwoPrimaryKeysError struct {
	Total int
}

func (e *TwoPrimaryKeysError) Error() string {
	return fmt.Sprintf("%d primary keys declared, only one is allowed", e.Total)
}
func (e *TwoPrimaryKeysError) Kind() Kind { return KindInvalidArgument }

type PrimaryKeyNotDefinedError struct {
	CollectionName string
}

func (e *PrimaryKeyNotDefinedError) Error() string {
	return fmt.Sprintf("primary key not defined for collection %q", e.CollectionName)
}
func (e *PrimaryKeyNotDefinedError) Kind() Kind { return KindInvalidArgument }

type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key violation: key %q already exists in unique index", e.Key)
}
func (e *DuplicateKeyError) Kind() Kind { return KindAlreadyExists }

type IndexNotFoundError struct {
	Name string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q not found", e.Name)
}
func (e *IndexNotFoundError) Kind() Kind { return KindNotFound }

type InvalidKeyTypeError struct {
	Name     string
	TypeName string
}

func (e *InvalidKeyTypeError) Error() string {
	return fmt.Sprintf("invalid key type for index %q: %s", e.Name, e.TypeName)
}
func (e *InvalidKeyTypeError) Kind() Kind { return KindInvalidArgument }

// DeadlockError is raised when the detector picks this transaction as victim.
type DeadlockError struct {
	TransactionID string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("transaction %s aborted: deadlock victim", e.TransactionID)
}
func (e *DeadlockError) Kind() Kind { return KindDeadlock }

// ConflictError reports a write-write or serialization conflict.
type ConflictError struct {
	Resource string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on resource %q", e.Resource)
}
func (e *ConflictError) Kind() Kind { return KindConflict }

// CorruptionError reports a checksum or frame-layout failure.
type CorruptionError struct {
	Context string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corruption detected: %s", e.Context)
}
func (e *CorruptionError) Kind() Kind { return KindCorruption }

// InvalidStateError reports an operation attempted against a transaction or
// handle in the wrong lifecycle state (e.g. commit after rollback).
type InvalidStateError struct {
	Entity string
	State  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s is in invalid state %q for this operation", e.Entity, e.State)
}
func (e *InvalidStateError) Kind() Kind { return KindInvalidState }
