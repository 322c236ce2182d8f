package security

import (
	"fmt"
	"path"
	"strings"
)

// MaxAttachmentSize is the largest file the Bitwarden server accepts as an
// item attachment.
const MaxAttachmentSize = 500 * 1024 * 1024

// SanitizeString removes NUL, other control characters and byte order marks.
// Tab, newline and carriage return are kept.
func SanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 32 || r == 0x7f || r == '\ufeff' {
			return -1
		}
		return r
	}, s)
}

// SafeFilename reduces an attachment name to a single path element usable in a
// multipart Content-Disposition header.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r < 32 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "attachment"
	}
	return name
}

// ValidateAttachment checks an attachment before upload.
func ValidateAttachment(name string, size int) error {
	if size < 0 {
		return fmt.Errorf("attachment %q: size cannot be negative", name)
	}
	if size > MaxAttachmentSize {
		return fmt.Errorf("attachment %q exceeds maximum size of %d bytes", name, MaxAttachmentSize)
	}
	return nil
}
