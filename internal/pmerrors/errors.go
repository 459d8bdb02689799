// Package pmerrors defines the error taxonomy shared by every subsystem.
//
// Every fallible operation in this module returns a plain error value; none
// of the domains below use panics or unwinding for control flow. Each error
// carries a Domain, a Code identifying the specific failure within that
// domain, a human-readable Message, and optional structured Context for
// callers that want to render or log the failure without string-matching.
package pmerrors

import (
	"errors"
	"fmt"
)

// Domain groups related error codes, matching the table in the error
// handling design: Network, Storage, State, Resolver, Package, Config.
type Domain string

const (
	DomainNetwork  Domain = "network"
	DomainStorage  Domain = "storage"
	DomainState    Domain = "state"
	DomainResolver Domain = "resolver"
	DomainPackage  Domain = "package"
	DomainConfig   Domain = "config"
)

// Code identifies a specific failure kind within a Domain.
type Code string

const (
	// Network domain.
	CodeTimeout            Code = "timeout"
	CodeConnectionRefused  Code = "connection-refused"
	CodeHTTPStatus         Code = "http-status"
	CodeChecksumMismatch   Code = "checksum-mismatch"
	CodeUnavailable        Code = "unavailable"

	// Storage domain.
	CodeDiskFull         Code = "disk-full"
	CodePermissionDenied Code = "permission-denied"
	CodeIOError          Code = "io-error"
	CodeCorruptArchive   Code = "corrupt-archive"
	CodeHashMismatch     Code = "hash-mismatch"

	// State domain.
	CodeDBBusy               Code = "db-busy"
	CodeInvalidTransition     Code = "invalid-transition"
	CodeConcurrentTransition  Code = "concurrent-transition"
	CodeOrphanStaging         Code = "orphan-staging"
	CodeIntegrityViolation    Code = "integrity-violation"

	// Resolver domain.
	CodeUnsat            Code = "unsat"
	CodeUnknownPackage   Code = "unknown-package"
	CodeCyclicBuildDeps  Code = "cyclic-build-deps"

	// Package domain.
	CodeSignatureInvalid   Code = "signature-invalid"
	CodeManifestMalformed  Code = "manifest-malformed"
	CodeArchMismatch       Code = "arch-mismatch"
	CodeUnsupportedFormat  Code = "unsupported-format"

	// Config domain.
	CodeMissingKey           Code = "missing-key"
	CodeParseError           Code = "parse-error"
	CodeSchemaVersionTooNew  Code = "schema-version-too-new"
)

// Error is the concrete error type for every domain in this taxonomy.
//
// Error implements the error interface and supports errors.As/errors.Is via
// Unwrap, so callers can test for a specific Code with Is(err, Code) without
// needing to know which Domain produced it.
type Error struct {
	Domain  Domain
	Code    Code
	Message string
	Context map[string]string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s/%s: %s", e.Domain, e.Code, e.Message)
	}
	return fmt.Sprintf("%s/%s: %s %v", e.Domain, e.Code, e.Message, e.Context)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a Error with no wrapped cause.
func New(domain Domain, code Code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

// Wrap creates a Error wrapping an underlying cause.
func Wrap(domain Domain, code Code, message string, err error) *Error {
	return &Error{Domain: domain, Code: code, Message: message, Err: err}
}

// WithContext returns a copy of e with the given key/value added to Context.
func (e *Error) WithContext(key, value string) *Error {
	cp := *e
	cp.Context = make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// Is reports whether err is a Error with the given code, walking the
// wrap chain via errors.As.
func Is(err error, code Code) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsDomain reports whether err is a Error belonging to the given domain.
func IsDomain(err error, domain Domain) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Domain == domain
	}
	return false
}
