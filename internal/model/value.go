package model

import (
	"github.com/nvinuesa/kdbx2bw/internal/security"
)

// Value is a field value as stored in the database: either Plain text or a
// Protected value whose plaintext is only handed out through Resolve.
type Value interface {
	isValue()
}

// Plain is an unprotected field value.
type Plain string

func (Plain) isValue()  {}
func (Plain) isBinary() {}

// Protected is a field or binary the database marks for memory protection.
type Protected struct {
	secret *security.SecureBytes
}

// NewProtected takes ownership of data, clearing the caller's slice.
func NewProtected(data []byte) *Protected {
	return &Protected{secret: security.FromBytes(data)}
}

// NewProtectedString wraps a decrypted string.
func NewProtectedString(s string) *Protected {
	return &Protected{secret: security.FromString(s)}
}

func (*Protected) isValue()  {}
func (*Protected) isBinary() {}

// Len returns the plaintext length without exposing it.
func (p *Protected) Len() int {
	if p == nil {
		return 0
	}
	return p.secret.Len()
}

// Wipe clears the plaintext. Resolving a wiped value yields "".
func (p *Protected) Wipe() {
	if p == nil {
		return
	}
	p.secret.Zero()
}

// String never reveals the secret, so a Protected value can be logged safely.
func (p *Protected) String() string {
	return "[protected]"
}

// IsProtected reports whether v is a Protected value.
func IsProtected(v Value) bool {
	_, ok := v.(*Protected)
	return ok
}

// Resolve returns the text of a value, decrypting it if it is protected.
// A nil value resolves to "".
func Resolve(v Value) string {
	switch v := v.(type) {
	case Plain:
		return string(v)
	case *Protected:
		if v == nil {
			return ""
		}
		return v.secret.String()
	default:
		return ""
	}
}

// ResolveBytes is Resolve for binary payloads.
func ResolveBytes(v Value) []byte {
	switch v := v.(type) {
	case Plain:
		return []byte(v)
	case *Protected:
		if v == nil {
			return nil
		}
		return v.secret.Bytes()
	default:
		return nil
	}
}
