package sources

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tobischo/gokeepasslib/v3"

	"github.com/nvinuesa/kdbx2bw/internal/model"
	"github.com/nvinuesa/kdbx2bw/internal/security"
)

// KeePass file signature (first 4 bytes).
var kdbxSignature = []byte{0x03, 0xd9, 0xa2, 0x9a}

// binaryProtected is the KDBX 4 inner header flag marking a protected binary.
const binaryProtected = 0x01

// KeePassSource reads KeePass 2.x .kdbx files.
//
// Security Note: gokeepasslib relies on Go's encoding/xml, which never
// resolves external entities or processes DTDs, so the decoder is not exposed
// to XXE. See: https://github.com/golang/go/issues/14107
type KeePassSource struct {
	filePath string
	db       *model.Database
	isOpen   bool
}

// NewKeePassSource creates a new KeePass source.
func NewKeePassSource() *KeePassSource {
	return &KeePassSource{}
}

// Name returns the unique identifier for this source.
func (s *KeePassSource) Name() string {
	return "keepass"
}

// Open decrypts the database and copies it into an owned tree. Protected
// values stay wrapped until the caller resolves them. With a key file and no
// passphrase the database is opened with the key file alone.
func (s *KeePassSource) Open(path string, opts OpenOptions) error {
	if s.isOpen {
		return ErrAlreadyOpen
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newDatabaseError(path, "", ErrFileNotFound, nil)
		}
		return newDatabaseError(path, "cannot stat", ErrUnreadable, err)
	}
	if info.IsDir() {
		return newDatabaseError(path, "path must be a file, not a directory", ErrUnreadable, nil)
	}

	passphrase := opts.Passphrase
	if passphrase == "" && opts.KeyFilePath == "" && opts.PasswordFunc != nil {
		passphrase, err = opts.PasswordFunc("Enter KeePass database passphrase: ")
		if err != nil {
			return err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return newDatabaseError(path, "cannot read", ErrUnreadable, err)
	}
	defer security.Wipe(&data)
	if !bytes.HasPrefix(data, kdbxSignature) {
		return newDatabaseError(path, "not a KeePass 2.x database", ErrCorrupt, nil)
	}

	kdb := gokeepasslib.NewDatabase()
	if opts.KeyFilePath != "" {
		keyData, err := os.ReadFile(opts.KeyFilePath)
		if err != nil {
			if os.IsNotExist(err) {
				return newDatabaseError(opts.KeyFilePath, "key file", ErrFileNotFound, nil)
			}
			return newDatabaseError(opts.KeyFilePath, "key file", ErrUnreadable, err)
		}
		defer security.Wipe(&keyData)

		var creds *gokeepasslib.DBCredentials
		if passphrase == "" {
			creds, err = gokeepasslib.NewKeyDataCredentials(keyData)
		} else {
			creds, err = gokeepasslib.NewPasswordAndKeyDataCredentials(passphrase, keyData)
		}
		if err != nil {
			return newDatabaseError(opts.KeyFilePath, "failed to parse key file", ErrCorrupt, err)
		}
		kdb.Credentials = creds
	} else {
		kdb.Credentials = gokeepasslib.NewPasswordCredentials(passphrase)
	}

	if err := gokeepasslib.NewDecoder(bytes.NewReader(data)).Decode(kdb); err != nil {
		if isCredentialFailure(err) {
			return newDatabaseError(path, "", ErrBadCredentials, err)
		}
		return newDatabaseError(path, "failed to decode database", ErrCorrupt, err)
	}

	if err := kdb.UnlockProtectedEntries(); err != nil {
		return newDatabaseError(path, "failed to unlock protected entries", ErrCorrupt, err)
	}

	db, err := buildDatabase(kdb, path)
	if err != nil {
		return err
	}

	s.filePath = path
	s.db = db
	s.isOpen = true
	return nil
}

// Database returns the decrypted tree.
func (s *KeePassSource) Database() (*model.Database, error) {
	if !s.isOpen {
		return nil, ErrNotOpen
	}
	return s.db, nil
}

// Passwords flattens the database into one entry per KeePass entry. Root
// level entries carry the database name as collection path; nested entries
// carry "<name>/<group>/...". See model.Database.Flatten for the order.
func (s *KeePassSource) Passwords() ([]model.PasswordEntry, error) {
	if !s.isOpen {
		return nil, ErrNotOpen
	}
	return s.db.Flatten(), nil
}

// Close wipes protected values and releases the database.
func (s *KeePassSource) Close() error {
	s.db.Wipe()
	s.isOpen = false
	s.filePath = ""
	s.db = nil
	return nil
}

// isCredentialFailure guesses from the decoder message whether the
// credentials were wrong rather than the file being damaged.
func isCredentialFailure(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "password") ||
		strings.Contains(errStr, "credential") ||
		strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "hmac")
}

// buildDatabase copies the decoded database into the model tree, starting at
// the default group.
func buildDatabase(kdb *gokeepasslib.Database, path string) (*model.Database, error) {
	db := &model.Database{}
	if kdb.Content != nil && kdb.Content.Meta != nil {
		db.Name = kdb.Content.Meta.DatabaseName
	}

	if kdb.Content != nil && kdb.Content.Root != nil && len(kdb.Content.Root.Groups) > 0 {
		root, err := convertGroup(kdb, kdb.Content.Root.Groups[0], path)
		if err != nil {
			return nil, err
		}
		db.Root = root
	}

	if db.Name == "" {
		db.Name = db.Root.Name
	}
	if db.Name == "" {
		db.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return db, nil
}

// convertGroup recursively copies a group, its subgroups and entries.
func convertGroup(kdb *gokeepasslib.Database, group gokeepasslib.Group, path string) (model.Group, error) {
	out := model.Group{
		Name:    group.Name,
		Groups:  make([]model.Group, 0, len(group.Groups)),
		Entries: make([]model.Entry, 0, len(group.Entries)),
	}

	for _, sub := range group.Groups {
		g, err := convertGroup(kdb, sub, path)
		if err != nil {
			return model.Group{}, err
		}
		out.Groups = append(out.Groups, g)
	}

	for _, entry := range group.Entries {
		e, err := convertEntry(kdb, entry, path)
		if err != nil {
			return model.Group{}, err
		}
		out.Entries = append(out.Entries, e)
	}

	return out, nil
}

// convertEntry copies one entry. Field order is preserved; protected fields
// and binaries are wrapped instead of exposed.
func convertEntry(kdb *gokeepasslib.Database, entry gokeepasslib.Entry, path string) (model.Entry, error) {
	out := model.Entry{
		ID:     uuid.UUID(entry.UUID).String(),
		Fields: make([]model.Field, 0, len(entry.Values)),
	}

	for _, value := range entry.Values {
		var v model.Value = model.Plain(value.Value.Content)
		if value.Value.Protected.Bool {
			v = model.NewProtectedString(value.Value.Content)
		}
		out.Fields = append(out.Fields, model.Field{Key: value.Key, Value: v})
	}

	for _, ref := range entry.Binaries {
		binary := ref.Find(kdb)
		if binary == nil {
			return model.Entry{}, newDatabaseError(path,
				fmt.Sprintf("entry %q references missing binary %d", entry.GetTitle(), ref.Value.ID),
				ErrCorrupt, nil)
		}
		content, err := binary.GetContentBytes()
		if err != nil {
			return model.Entry{}, newDatabaseError(path,
				fmt.Sprintf("entry %q: cannot read binary %q", entry.GetTitle(), ref.Name),
				ErrCorrupt, err)
		}

		var v model.Value = model.Plain(content)
		if binary.MemoryProtection&binaryProtected != 0 {
			v = model.NewProtected(content)
		}
		out.Binaries = append(out.Binaries, model.EntryBinary{
			Name:   ref.Name,
			Binary: model.PooledBinary{ID: ref.Value.ID, Value: v},
		})
	}

	return out, nil
}

// Ensure KeePassSource implements Source interface
var _ Source = (*KeePassSource)(nil)
