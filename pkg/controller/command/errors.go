/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package command

// Type tells whether a command failed on its arguments or while running.
type Type int32

const (
	// ValidationError is a rejected request: malformed arguments, unknown ids, wrong state.
	ValidationError Type = iota
	// ExecuteError is a failure of the agent while running the command.
	ExecuteError
)

func (t Type) String() string {
	if t == ValidationError {
		return "validation"
	}

	return "execute"
}

// Code identifies a command error. Codes are allocated per Group, starting at the group value.
type Code int32

// UnknownStatus is the code of errors without a more specific one.
const UnknownStatus Code = 0

// Group is the first Code of a command group. Groups are multiples of 1000.
type Group int32

const (
	// Common error group for general command errors.
	Common Group = 1000
	// Connection error group for connection management errors.
	Connection Group = 2000
	// Messaging error group for messaging service errors.
	Messaging Group = 3000
	// Mediator error group for mediation and message pickup errors.
	Mediator Group = 4000
	// Routing error group for routing table and mailbox errors.
	Routing Group = 5000
)

// Error is a failed command. The underlying error stays reachable through errors.Is and errors.As.
type Error interface {
	error
	Code() Code
	Type() Type
}

// NewValidationError returns a command error for a rejected request.
func NewValidationError(code Code, err error) Error {
	return &commandError{err: err, code: code, errType: ValidationError}
}

// NewExecuteError returns a command error for a failure while running the command.
func NewExecuteError(code Code, err error) Error {
	return &commandError{err: err, code: code, errType: ExecuteError}
}

type commandError struct {
	err     error
	code    Code
	errType Type
}

func (c *commandError) Error() string { return c.err.Error() }

func (c *commandError) Unwrap() error { return c.err }

func (c *commandError) Code() Code { return c.code }

func (c *commandError) Type() Type { return c.errType }
