package model

// Field is one key/value pair of an entry, in database order.
type Field struct {
	Key   string
	Value Value
}

// EntryBinary is a named attachment on an entry.
type EntryBinary struct {
	Name   string
	Binary Binary
}

// Entry is a single KeePass entry.
type Entry struct {
	// ID is the entry UUID in canonical text form.
	ID       string
	Fields   []Field
	Binaries []EntryBinary
}

// Get returns the value stored under key.
func (e *Entry) Get(key string) (Value, bool) {
	if e == nil {
		return nil, false
	}
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Has reports whether the entry carries a field named key.
func (e *Entry) Has(key string) bool {
	_, ok := e.Get(key)
	return ok
}

// Text resolves the field named key, "" when absent.
func (e *Entry) Text(key string) string {
	v, _ := e.Get(key)
	return Resolve(v)
}

// Title resolves the Title field.
func (e *Entry) Title() string {
	return e.Text(FieldTitle)
}

// Wipe clears every protected field and binary of the entry.
func (e *Entry) Wipe() {
	if e == nil {
		return
	}
	for _, f := range e.Fields {
		if p, ok := f.Value.(*Protected); ok {
			p.Wipe()
		}
	}
	for _, b := range e.Binaries {
		wipeBinary(b.Binary)
	}
}

// Group is a KeePass group with its child groups and entries in database
// order.
type Group struct {
	Name    string
	Groups  []Group
	Entries []Entry
}

// Walk visits every entry below g depth-first, subgroups before the group's
// own entries.
func (g *Group) Walk(prefix string, fn func(path string, e *Entry)) {
	for i := range g.Groups {
		sub := &g.Groups[i]
		sub.Walk(prefix+"/"+sub.Name, fn)
	}
	for i := range g.Entries {
		fn(prefix, &g.Entries[i])
	}
}

// Wipe clears all protected data below g.
func (g *Group) Wipe() {
	for i := range g.Groups {
		g.Groups[i].Wipe()
	}
	for i := range g.Entries {
		g.Entries[i].Wipe()
	}
}

// Database is a decrypted KeePass database.
type Database struct {
	// Name is the display name, used as the root collection path.
	Name string
	// Root is the default group holding all user data.
	Root Group
}

// PasswordEntry is an entry paired with the collection it migrates into.
type PasswordEntry struct {
	// CollectionPath is the "/" separated collection path, never empty.
	CollectionPath string
	Entry          *Entry
}

// Title resolves the entry title.
func (p PasswordEntry) Title() string {
	return p.Entry.Title()
}

// Attachment is a decrypted binary ready for upload.
type Attachment struct {
	Filename string
	Data     []byte
}

// Flatten lists every entry of the database with its collection path. The
// order is the reverse of a depth-first walk that visits subgroups before
// entries, so entries near the root come first and, within a group, later
// entries come first.
func (db *Database) Flatten() []PasswordEntry {
	if db == nil {
		return nil
	}
	var out []PasswordEntry
	db.Root.Walk(db.Name, func(path string, e *Entry) {
		out = append(out, PasswordEntry{CollectionPath: path, Entry: e})
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Wipe clears all protected data in the database.
func (db *Database) Wipe() {
	if db == nil {
		return
	}
	db.Root.Wipe()
}
