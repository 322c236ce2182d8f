package migration

import (
	"regexp"

	"github.com/nvinuesa/kdbx2bw/internal/bitwarden"
	"github.com/nvinuesa/kdbx2bw/internal/model"
)

// otpauthSecret captures the secret parameter of an otpauth:// URI.
var otpauthSecret = regexp.MustCompile(`^otpauth.+[?&]secret=([^&]+)`)

// ConvertToTarget maps a KeePass entry to a Bitwarden login item in one
// collection. Protected values are decrypted here.
func ConvertToTarget(orgID, collectionID string, e *model.Entry) bitwarden.Item {
	item := bitwarden.NewLoginItem(orgID, collectionID)
	item.Name = e.Text(model.FieldTitle)
	item.Login.Username = e.Text(model.FieldUserName)
	item.Login.Password = e.Text(model.FieldPassword)

	if e.Has(model.FieldOTP) {
		item.Login.TOTP = totpSecret(e.Text(model.FieldOTP))
	}

	if url := e.Text(model.FieldURL); url != "" {
		item.Login.URIs = []bitwarden.URI{{
			URI:   url,
			Match: bitwarden.Match(bitwarden.URIMatchBaseDomain),
		}}
	}

	if e.Has(model.FieldNotes) {
		item.Notes = e.Text(model.FieldNotes)
	}

	for _, f := range e.Fields {
		if model.IsStandardField(f.Key) {
			continue
		}
		fieldType := bitwarden.FieldTypeText
		if model.IsProtected(f.Value) {
			fieldType = bitwarden.FieldTypeHidden
		}
		item.Fields = append(item.Fields, bitwarden.Field{
			Name:  f.Key,
			Value: model.Resolve(f.Value),
			Type:  fieldType,
		})
	}

	return item
}

// totpSecret extracts the secret from an otpauth:// URI. Any other value is
// taken as the raw seed.
func totpSecret(v string) string {
	if m := otpauthSecret.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	return v
}

// Attachments unwraps the binaries of an entry, in entry order.
func Attachments(e *model.Entry) []model.Attachment {
	out := make([]model.Attachment, 0, len(e.Binaries))
	for _, b := range e.Binaries {
		out = append(out, model.Attachment{
			Filename: b.Name,
			Data:     model.UnwrapBinary(b.Binary),
		})
	}
	return out
}
