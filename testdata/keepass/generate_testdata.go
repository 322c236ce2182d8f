//go:build ignore

// This program writes KeePass databases for trying kdbx2bw by hand against a
// local `bw serve`.
// Run with: go run generate_testdata.go
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tobischo/gokeepasslib/v3"
	"github.com/tobischo/gokeepasslib/v3/wrappers"

	"github.com/nvinuesa/kdbx2bw/internal/kdbxtest"
)

func main() {
	if err := write("testdb.kdbx", kdbxtest.Reference()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate testdb.kdbx: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Generated testdb.kdbx")

	if err := write("complete.kdbx", complete()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate complete.kdbx: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Generated complete.kdbx")

	fmt.Printf("\nPassphrase for all databases: %s\n", kdbxtest.Passphrase)
}

// complete adds the fields the reference database lacks: URL, notes, TOTP in
// both formats, an untitled entry and a deeper hierarchy.
func complete() *gokeepasslib.Database {
	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(kdbxtest.Passphrase)
	db.Content.Meta.DatabaseName = "Complete"

	root := gokeepasslib.NewGroup()
	root.Name = "Complete"

	github := gokeepasslib.NewEntry()
	github.Values = append(github.Values,
		kdbxtest.Value("Title", "GitHub"),
		kdbxtest.Value("UserName", "user@example.com"),
		kdbxtest.ProtectedValue("Password", "gh_secret_123"),
		kdbxtest.Value("URL", "https://github.com/login"),
		kdbxtest.Value("Notes", "Work account"),
		kdbxtest.ProtectedValue("otp", "otpauth://totp/GitHub:user@example.com?secret=JBSWY3DPEHPK3PXP&issuer=GitHub"),
	)

	seed := gokeepasslib.NewEntry()
	seed.Values = append(seed.Values,
		kdbxtest.Value("Title", "Raw TOTP seed"),
		kdbxtest.ProtectedValue("otp", "GEZDGNBVGY3TQOJQ"),
	)

	untitled := gokeepasslib.NewEntry()
	untitled.Values = append(untitled.Values,
		kdbxtest.Value("UserName", "skipped"),
	)

	internet := gokeepasslib.NewGroup()
	internet.Name = "Internet"
	mail := gokeepasslib.NewGroup()
	mail.Name = "Mail"
	webmail := gokeepasslib.NewEntry()
	webmail.Values = append(webmail.Values,
		kdbxtest.Value("Title", "Webmail"),
		kdbxtest.Value("UserName", "me"),
		kdbxtest.ProtectedValue("Password", "mail_secret"),
		kdbxtest.ProtectedValue("Recovery code", "1111-2222"),
	)
	mail.Entries = append(mail.Entries, webmail)
	internet.Groups = append(internet.Groups, mail)

	root.Entries = append(root.Entries, github, seed, untitled)
	root.Groups = append(root.Groups, internet)
	db.Content.Root.Groups = []gokeepasslib.Group{root}
	return db
}

func write(filename string, db *gokeepasslib.Database) error {
	db.Content.Meta.DatabaseNameChanged = &wrappers.TimeWrapper{Time: time.Now()}
	if err := db.LockProtectedEntries(); err != nil {
		return err
	}

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	return gokeepasslib.NewEncoder(f).Encode(db)
}
