package sources

import (
	"errors"
	"fmt"
)

// Lifecycle errors.
var (
	// ErrNotOpen is returned when the database is read before Open.
	ErrNotOpen = errors.New("source not open")

	// ErrAlreadyOpen is returned when Open is called on an already-open source.
	ErrAlreadyOpen = errors.New("source already open")
)

// Causes wrapped by DatabaseError.
var (
	// ErrBadCredentials means the passphrase or key file does not unlock the database.
	ErrBadCredentials = errors.New("incorrect passphrase or key file")

	// ErrFileNotFound means the database or key file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrUnreadable means the file exists but cannot be opened.
	ErrUnreadable = errors.New("file not readable")

	// ErrCorrupt means the file is not a readable KDBX container.
	ErrCorrupt = errors.New("corrupt or unsupported database")
)

// DatabaseError reports that the source database could not be read or
// decrypted. It is fatal: nothing has been sent to the target yet.
type DatabaseError struct {
	Path   string // Database or key file path
	Reason string // What went wrong
	Err    error  // Underlying error, if any
}

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("keepass: cannot read %q", e.Path)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// IsDatabaseError returns true if the error is a database error.
func IsDatabaseError(err error) bool {
	var dbErr *DatabaseError
	return errors.As(err, &dbErr)
}

// IsAuthError returns true if the passphrase or key file was rejected.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrBadCredentials)
}

// IsNotFound returns true if the database or key file is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound)
}

func newDatabaseError(path, reason string, kind, err error) *DatabaseError {
	cause := kind
	if err != nil {
		cause = fmt.Errorf("%w: %w", kind, err)
	}
	return &DatabaseError{Path: path, Reason: reason, Err: cause}
}
