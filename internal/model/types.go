// Package model defines the decrypted KeePass tree the migration reads from.
// It owns its data; nothing in it refers back to the KDBX decoder.
package model

// Well-known KeePass entry field names.
const (
	FieldTitle    = "Title"
	FieldUserName = "UserName"
	FieldPassword = "Password"
	FieldURL      = "URL"
	FieldNotes    = "Notes"

	// FieldOTP is the field KeePassXC stores TOTP configuration in.
	FieldOTP = "otp"
)

// IsStandardField reports whether key is one of the five fields every KeePass
// entry carries.
func IsStandardField(key string) bool {
	switch key {
	case FieldTitle, FieldUserName, FieldPassword, FieldURL, FieldNotes:
		return true
	default:
		return false
	}
}
