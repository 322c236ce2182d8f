package model

import (
	"testing"
)

func testEntry(title string) Entry {
	return Entry{
		ID: title,
		Fields: []Field{
			{Key: FieldTitle, Value: Plain(title)},
			{Key: FieldPassword, Value: NewProtectedString(title + "-pass")},
		},
	}
}

func TestEntry_Accessors(t *testing.T) {
	e := testEntry("GitHub")

	if e.Title() != "GitHub" {
		t.Errorf("Title() = %q, want GitHub", e.Title())
	}
	if e.Text(FieldPassword) != "GitHub-pass" {
		t.Errorf("Text(Password) = %q", e.Text(FieldPassword))
	}
	if !e.Has(FieldPassword) {
		t.Error("Has(Password) = false")
	}
	if e.Has(FieldURL) {
		t.Error("Has(URL) = true for missing field")
	}
	if e.Text(FieldURL) != "" {
		t.Error("Text() of a missing field should be empty")
	}

	var nilEntry *Entry
	if nilEntry.Has(FieldTitle) {
		t.Error("nil entry should have no fields")
	}
}

func TestEntry_Wipe(t *testing.T) {
	e := testEntry("Wiped")
	e.Binaries = []EntryBinary{
		{Name: "key.pem", Binary: PooledBinary{ID: 0, Value: NewProtected([]byte("pem"))}},
	}

	e.Wipe()

	if e.Text(FieldPassword) != "" {
		t.Error("protected field should be empty after Wipe()")
	}
	if e.Title() != "Wiped" {
		t.Error("plain fields must survive Wipe()")
	}
	if got := UnwrapBinary(e.Binaries[0].Binary); len(got) != 0 {
		t.Errorf("protected binary should be empty after Wipe(), got %q", got)
	}
}

func TestIsStandardField(t *testing.T) {
	for _, key := range []string{"Title", "UserName", "Password", "URL", "Notes"} {
		if !IsStandardField(key) {
			t.Errorf("IsStandardField(%q) = false", key)
		}
	}
	for _, key := range []string{"otp", "title", "Testfield", ""} {
		if IsStandardField(key) {
			t.Errorf("IsStandardField(%q) = true", key)
		}
	}
}

func TestDatabase_Flatten(t *testing.T) {
	db := &Database{
		Name: "Testdatabase",
		Root: Group{
			Name: "Root",
			Groups: []Group{
				{
					Name:    "Testgroup",
					Entries: []Entry{testEntry("testsubentry")},
					Groups: []Group{
						{Name: "Deep", Entries: []Entry{testEntry("deep")}},
					},
				},
			},
			Entries: []Entry{testEntry("Testroot"), testEntry("testattachment")},
		},
	}

	got := db.Flatten()

	want := []struct {
		path  string
		title string
	}{
		{"Testdatabase", "testattachment"},
		{"Testdatabase", "Testroot"},
		{"Testdatabase/Testgroup", "testsubentry"},
		{"Testdatabase/Testgroup/Deep", "deep"},
	}

	if len(got) != len(want) {
		t.Fatalf("Flatten() returned %d entries, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].CollectionPath != w.path {
			t.Errorf("entry %d path = %q, want %q", i, got[i].CollectionPath, w.path)
		}
		if got[i].Title() != w.title {
			t.Errorf("entry %d title = %q, want %q", i, got[i].Title(), w.title)
		}
	}
}

func TestDatabase_FlattenEmpty(t *testing.T) {
	var db *Database
	if got := db.Flatten(); got != nil {
		t.Errorf("nil database Flatten() = %v, want nil", got)
	}

	empty := &Database{Name: "Empty"}
	if got := empty.Flatten(); len(got) != 0 {
		t.Errorf("empty database Flatten() = %v, want none", got)
	}
}

func TestDatabase_FlattenSharesEntries(t *testing.T) {
	db := &Database{Name: "DB", Root: Group{Entries: []Entry{testEntry("one")}}}

	got := db.Flatten()
	got[0].Entry.Fields[0].Value = Plain("changed")

	if db.Root.Entries[0].Title() != "changed" {
		t.Error("Flatten() should reference the database entries, not copies")
	}
}
