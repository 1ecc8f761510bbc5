package errutil

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports malformed tool-call arguments. Surfaced to the
// caller as-is; never retried.
type ValidationError struct {
	Tool  string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid arguments")
	if e.Tool != "" {
		fmt.Fprintf(&b, " for tool %q", e.Tool)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %q)", e.Field)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ConflictError reports a cross-server tool-name collision. Resolving it
// requires a config or user change, so it is never retried automatically.
type ConflictError struct {
	ServerName string
	ToolNames  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("server %q exposes tool names already registered: %s",
		e.ServerName, strings.Join(e.ToolNames, ", "))
}

// ConnectionError reports a transport connect or list failure. Retry is a
// manual operation for the operator.
type ConnectionError struct {
	ServerName string
	Stage      string // connect, list
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("server %q %s failed: %v", e.ServerName, e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RegistrationError reports a failure after a successful connect. The server
// manager runs compensations before this error reaches the caller, so no
// orphaned connection or partially registered tool survives it.
type RegistrationError struct {
	ServerName string
	Err        error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering tools for server %q failed: %v", e.ServerName, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// PathError records one failed path restoration during rollback.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// RollbackError aggregates per-path restoration failures from one rollback
// pass. Rollback is best-effort: every snapshot is attempted and all
// failures are collected here rather than aborting on the first one.
type RollbackError struct {
	Paths []*PathError
}

func (e *RollbackError) Error() string {
	if len(e.Paths) == 0 {
		return "rollback failed"
	}
	parts := make([]string, 0, len(e.Paths))
	for _, p := range e.Paths {
		parts = append(parts, p.Error())
	}
	return fmt.Sprintf("rollback left %d path(s) unrestored: %s", len(e.Paths), strings.Join(parts, "; "))
}

// IsConflict reports whether err carries a tool-name collision.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// IsConnection reports whether err originated in transport connect/list.
func IsConnection(err error) bool {
	var conn *ConnectionError
	return errors.As(err, &conn)
}

// IsValidation reports whether err is a malformed-argument error.
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}
