package core

import "errors"

// Per-call failure kinds. Every class except ErrPersistence isolates a single
// call: the driver restores the working-set snapshot and moves on.
var (
	// ErrMalformedPayload covers framing errors, codec errors and unknown
	// version specifiers.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnknownContract marks an invocation whose target has never been
	// deployed.
	ErrUnknownContract = errors.New("unknown contract")

	// ErrForbiddenMethod marks a call to the constructor, to a method missing
	// from the table, or to one that is not exported.
	ErrForbiddenMethod = errors.New("forbidden method")

	// ErrArgumentType marks an argument failing its declared-type check after
	// lenient coercion.
	ErrArgumentType = errors.New("argument type mismatch")

	// ErrExecution wraps anything thrown by contract code, including
	// timeouts, disallowed writes and self-reentry.
	ErrExecution = errors.New("execution error")

	// ErrInsufficientGas marks a funding output below the metered
	// requirement.
	ErrInsufficientGas = errors.New("insufficient gas")

	// ErrDeployment marks a creation whose source compilation, constructor or
	// initial state encoding failed. The contract is not created.
	ErrDeployment = errors.New("deployment failed")

	// ErrPersistence marks a failed external write. It aborts the block and
	// leaves the cursor untouched.
	ErrPersistence = errors.New("persistence failure")
)
