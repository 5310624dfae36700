package types

import "errors"

// ErrContractViolation is the root of every precondition or invariant
// violation reported by the core (malformed graph, duplicate commitment,
// dependency underflow). Such errors are never retried.
var ErrContractViolation = errors.New("contract violation")

// IsContractViolation reports whether err stems from a contract violation.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}
