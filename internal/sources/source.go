// Package sources reads the KeePass database a migration starts from.
package sources

import (
	"github.com/nvinuesa/kdbx2bw/internal/model"
)

// Source is a password database that can be opened once and flattened into
// migration entries.
type Source interface {
	// Name returns the identifier used in logs (e.g. "keepass").
	Name() string

	// Open decrypts the database at path.
	Open(path string, opts OpenOptions) error

	// Database returns the decrypted tree.
	Database() (*model.Database, error)

	// Passwords returns every entry tagged with its collection path.
	Passwords() ([]model.PasswordEntry, error)

	// Close wipes decrypted data held by the source.
	Close() error
}

// OpenOptions provides the credentials for opening a database.
type OpenOptions struct {
	// Passphrase is the database master password.
	Passphrase string

	// KeyFilePath is an optional KeePass key file.
	KeyFilePath string

	// PasswordFunc is asked for the passphrase when Passphrase is empty.
	PasswordFunc PasswordPromptFunc
}

// PasswordPromptFunc is the signature for interactive password callbacks.
type PasswordPromptFunc func(prompt string) (string, error)
