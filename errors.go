package lsmcore

import (
	"github.com/cockroachdb/errors"

	"github.com/go-lsm/lsmcore/keys"
)

// Sentinel errors for the core. Kept in one place so callers have a
// single import to check against with errors.Is.
var (
	// ErrNotFound is returned when a key has no live value as of the
	// requested sequence. This is a normal negative result, not a
	// failure.
	ErrNotFound = errors.New("lsmcore: key not found")

	// ErrCorruption covers malformed MANIFEST records, a missing
	// CURRENT file, a comparator-name mismatch on recovery, an unknown
	// edit tag, an unparseable internal key, or a non-overlapping
	// invariant violation in Builder.SaveTo.
	ErrCorruption = keys.ErrCorruption

	// ErrIOError wraps an underlying file-system failure during a
	// MANIFEST write, sync, or rename. LogAndApply reverts its
	// in-memory state before returning this; the edit is never
	// installed.
	ErrIOError = errors.New("lsmcore: I/O error")

	// ErrInvalidArgument is the category for configuration errors: every
	// error Options.Validate returns is marked with it.
	ErrInvalidArgument = errors.New("lsmcore: invalid argument")

	// ErrClosed is returned by TableCache.FindTable once the cache has
	// been closed.
	ErrClosed = errors.New("lsmcore: resource is closed")

	// Configuration validation errors, each marked as ErrInvalidArgument.
	ErrInvalidNumLevels           = errors.Mark(errors.New("lsmcore: invalid number of levels"), ErrInvalidArgument)
	ErrInvalidL0CompactionTrigger = errors.Mark(errors.New("lsmcore: invalid L0 compaction trigger"), ErrInvalidArgument)
	ErrInvalidL0StopWritesTrigger = errors.Mark(errors.New("lsmcore: invalid L0 stop writes trigger"), ErrInvalidArgument)
	ErrInvalidTargetFileSize      = errors.Mark(errors.New("lsmcore: invalid target file size"), ErrInvalidArgument)
	ErrInvalidDirectory           = errors.Mark(errors.New("lsmcore: invalid database directory"), ErrInvalidArgument)
)

// wrapCorruption marks err as an ErrCorruption while preserving the
// original message and stack trace, so callers can still branch with
// errors.Is(err, ErrCorruption).
func wrapCorruption(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrCorruption)
}

// wrapIOError marks err as an ErrIOError.
func wrapIOError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrIOError)
}
