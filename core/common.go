// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"errors"
	"fmt"
)

// Operation represents a storage operation, one of Create, Read, Update, Delete, List, Count
type Operation string

// all supported database operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
	OperationCount  Operation = "count"
)

// Sentinel errors shared by all repositories. Callers classify them with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
)

// ValidationError reports malformed input, like a bad date or a missing field.
type ValidationError struct {
	Field   string
	Message string
}

// Validation returns a new validation error for field
func Validation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ConnectionError is returned when the database could not be reached
// after all connection attempts.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database unreachable after %d attempts: %s", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError wraps a driver failure (constraint violation, syntax, lost connection)
// together with the resource and operation that caused it.
type QueryError struct {
	Resource  string
	Operation Operation
	Err       error
}

// Query wraps err into a QueryError. It returns nil if err is nil.
func Query(resource string, operation Operation, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Resource: resource, Operation: operation, Err: err}
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Operation, e.Resource, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
