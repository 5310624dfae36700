package journal

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksumMismatch indicates a record whose content does not match its checksum.
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")

	// ErrCorrupted indicates a line that cannot be decoded or breaks the sequence.
	ErrCorrupted = errors.New("journal: file is corrupted")

	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("journal: already closed")

	// ErrDivergence is returned by Rebuild when the journal disagrees with
	// what the executor computes from the same notifications.
	ErrDivergence = errors.New("journal: replay diverged from recorded dispatches")
)

// ChecksumError reports which record failed verification.
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("journal: checksum mismatch at seq %d: expected %08x, got %08x", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// CorruptionError reports an undecodable or out-of-sequence line.
type CorruptionError struct {
	Line  int
	Cause error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupted at line %d: %v", e.Line, e.Cause)
}

// Is makes errors.Is(err, ErrCorrupted) hold.
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}
