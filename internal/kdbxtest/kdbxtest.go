// Package kdbxtest writes small KeePass databases for tests.
package kdbxtest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tobischo/gokeepasslib/v3"
	"github.com/tobischo/gokeepasslib/v3/wrappers"
)

// Passphrase unlocks every database written by this package.
const Passphrase = "masterpassword"

// DatabaseName is the display name of the reference database.
const DatabaseName = "Testdatabase"

// AttachmentName is the file attached to the "testattachment" entry.
const AttachmentName = "KeePass_icon.svg"

// AttachmentContent is the payload of AttachmentName.
var AttachmentContent = []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="16" height="16"><rect width="16" height="16" fill="#4b8bbe"/></svg>`)

// Reference builds the three-entry reference database:
//
//	Testdatabase
//	├── Testroot        (username, password, hidden and plain custom fields)
//	├── testattachment  (username, one attachment)
//	└── Testgroup
//	    └── testsubentry
func Reference() *gokeepasslib.Database {
	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(Passphrase)
	db.Content.Meta.DatabaseName = DatabaseName

	root := gokeepasslib.NewGroup()
	root.Name = DatabaseName

	testroot := gokeepasslib.NewEntry()
	testroot.Values = append(testroot.Values,
		Value("Title", "Testroot"),
		Value("UserName", "testuser"),
		ProtectedValue("Password", "testpassword"),
		ProtectedValue("Testfield", "Testfieldvalue"),
		Value("Testfield2", "Testnothidden"),
	)

	withAttachment := gokeepasslib.NewEntry()
	withAttachment.Values = append(withAttachment.Values,
		Value("Title", "testattachment"),
		Value("UserName", "testattachmentuser"),
	)
	binary := db.AddBinary(AttachmentContent)
	withAttachment.Binaries = append(withAttachment.Binaries, binary.CreateReference(AttachmentName))

	sub := gokeepasslib.NewGroup()
	sub.Name = "Testgroup"
	subentry := gokeepasslib.NewEntry()
	subentry.Values = append(subentry.Values,
		Value("Title", "testsubentry"),
		Value("UserName", "testsubuser"),
		ProtectedValue("Password", "testsubpassword"),
	)
	sub.Entries = append(sub.Entries, subentry)

	root.Entries = append(root.Entries, testroot, withAttachment)
	root.Groups = append(root.Groups, sub)
	db.Content.Root.Groups = []gokeepasslib.Group{root}

	return db
}

// Value builds a plain entry value.
func Value(key, value string) gokeepasslib.ValueData {
	return gokeepasslib.ValueData{
		Key:   key,
		Value: gokeepasslib.V{Content: value},
	}
}

// ProtectedValue builds a memory-protected entry value.
func ProtectedValue(key, value string) gokeepasslib.ValueData {
	return gokeepasslib.ValueData{
		Key: key,
		Value: gokeepasslib.V{
			Content:   value,
			Protected: wrappers.NewBoolWrapper(true),
		},
	}
}

// WriteReference writes the reference database into a temporary directory
// and returns its path.
func WriteReference(t testing.TB) string {
	t.Helper()
	return Save(t, Reference())
}

// Save encodes db into a temporary directory owned by t.
func Save(t testing.TB, db *gokeepasslib.Database) string {
	t.Helper()

	now := time.Now()
	db.Content.Meta.DatabaseNameChanged = &wrappers.TimeWrapper{Time: now}

	if err := db.LockProtectedEntries(); err != nil {
		t.Fatalf("Failed to lock entries: %v", err)
	}

	path := filepath.Join(t.TempDir(), "testdb.kdbx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create database file: %v", err)
	}
	defer f.Close()

	if err := gokeepasslib.NewEncoder(f).Encode(db); err != nil {
		t.Fatalf("Failed to encode database: %v", err)
	}

	return path
}

// KeyFileContent is the key file written by WriteKeyFileReference.
var KeyFileContent = []byte("kdbx2bw test key file\n")

// WriteKeyFileReference writes the reference database protected by a key
// file only, and returns the database and key file paths.
func WriteKeyFileReference(t testing.TB) (string, string) {
	t.Helper()

	db := Reference()
	creds, err := gokeepasslib.NewKeyDataCredentials(KeyFileContent)
	if err != nil {
		t.Fatalf("Failed to build key file credentials: %v", err)
	}
	db.Credentials = creds
	path := Save(t, db)

	keyPath := filepath.Join(filepath.Dir(path), "testdb.key")
	if err := os.WriteFile(keyPath, KeyFileContent, 0o600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}
	return path, keyPath
}
