package types

import "errors"

// Sentinel errors for filter operations. Callers match them with errors.Is;
// producers wrap them with position or value context.
var (
	// ErrSyntax indicates a query could not be tokenized or parsed.
	ErrSyntax = errors.New("syntax error")

	// ErrPathSyntax indicates a malformed path chunk.
	ErrPathSyntax = errors.New("invalid path syntax")

	// ErrPathTooDeep indicates a path exceeds MaxPathDepth chunks.
	ErrPathTooDeep = errors.New("path exceeds maximum depth")

	// ErrBadAddressSyntax indicates an address or range string could not be parsed.
	ErrBadAddressSyntax = errors.New("bad address syntax")

	// ErrBadAddressBytes indicates a raw address that is neither 4 nor 16 bytes long.
	ErrBadAddressBytes = errors.New("bad address bytes")

	// ErrFamilyMismatch indicates an operation mixed IPv4 and IPv6 values.
	ErrFamilyMismatch = errors.New("address family mismatch")

	// ErrUnknownAction indicates a rule references an undefined action id.
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidAction indicates a malformed action definition.
	ErrInvalidAction = errors.New("invalid action definition")

	// ErrInvalidDocument indicates a structurally invalid rule document.
	ErrInvalidDocument = errors.New("invalid filter document")

	// ErrInvalidRecord indicates input that does not decode to a JSON object.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrNoRules indicates a rule document without rules.
	ErrNoRules = errors.New("filter document has no rules")

	// ErrStructureMismatch indicates a path write collided with an existing
	// scalar, mapping or sequence.
	ErrStructureMismatch = errors.New("structure mismatch")

	// ErrShapeMismatch indicates arithmetic over sequences of incompatible lengths.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDivisionByZero indicates a division or modulo by zero during evaluation.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrInvariantViolation indicates the prefix index sweep met a crossing overlap.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrTransport indicates an action failed to deliver a record.
	ErrTransport = errors.New("transport error")
)
