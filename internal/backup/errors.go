package backup

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/satchel/internal/archive"
	"github.com/mattjoyce/satchel/internal/journal"
	"github.com/mattjoyce/satchel/internal/lock"
)

// Kind classifies a whole-operation failure.
type Kind string

const (
	KindConfig      Kind = "config"
	KindResource    Kind = "resource"
	KindNothingDone Kind = "nothing_done"
	KindIntegrity   Kind = "integrity"
	KindNotFound    Kind = "not_found"
	KindRefused     Kind = "refused"
	KindInternal    Kind = "internal"
)

var (
	ErrBothDisabled       = errors.New("hooks and apps cannot both be ignored")
	ErrArchiveExists      = errors.New("archive already exists")
	ErrInvalidName        = errors.New("invalid archive name")
	ErrNoCompressNoOutput = errors.New("no_compress requires an output directory")
	ErrOutputNotEmpty     = errors.New("output directory is not empty")
	ErrForbiddenOutput    = errors.New("forbidden output directory")
	ErrInsufficientSpace  = errors.New("not enough free space on the backup volume")
	ErrSpaceUnknown       = errors.New("unable to measure free space on the backup volume")
	ErrRestoreRefused     = errors.New("restore refused on an installed system")
	ErrNothingRestored    = errors.New("nothing was restored")
	ErrChecksumMismatch   = errors.New("archive checksum mismatch")
)

// Error is a classified failure of a backup service operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify wraps err in an *Error, deriving the kind from known sentinels.
// Errors that are already classified pass through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return newError(kindFor(err), op, err)
}

func kindFor(err error) Kind {
	switch {
	case errors.Is(err, ErrBothDisabled),
		errors.Is(err, ErrArchiveExists),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrNoCompressNoOutput),
		errors.Is(err, ErrOutputNotEmpty),
		errors.Is(err, ErrForbiddenOutput):
		return KindConfig
	case errors.Is(err, archive.ErrNothingToBackup),
		errors.Is(err, ErrNothingRestored):
		return KindNothingDone
	case errors.Is(err, archive.ErrInvalidArchive),
		errors.Is(err, ErrChecksumMismatch):
		return KindIntegrity
	case errors.Is(err, archive.ErrUnknownArchive),
		errors.Is(err, journal.ErrNoChecksum):
		return KindNotFound
	case errors.Is(err, ErrRestoreRefused):
		return KindRefused
	case errors.Is(err, ErrInsufficientSpace),
		errors.Is(err, ErrSpaceUnknown),
		errors.Is(err, archive.ErrArchiveOpen),
		errors.Is(err, archive.ErrDelete),
		errors.Is(err, lock.ErrLocked):
		return KindResource
	}
	return KindInternal
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return kindFor(err)
}

// Exit codes returned by the CLI per failure kind.
const (
	ExitSuccess     = 0
	ExitGeneric     = 1
	ExitConfig      = 2
	ExitResource    = 3
	ExitNothingDone = 4
	ExitIntegrity   = 5
	ExitNotFound    = 6
	ExitRefused     = 7
)

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch KindOf(err) {
	case KindConfig:
		return ExitConfig
	case KindResource:
		return ExitResource
	case KindNothingDone:
		return ExitNothingDone
	case KindIntegrity:
		return ExitIntegrity
	case KindNotFound:
		return ExitNotFound
	case KindRefused:
		return ExitRefused
	}
	return ExitGeneric
}
