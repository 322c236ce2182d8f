// Package security holds decrypted secrets in wipeable buffers and sanitises
// values before they leave the process.
package security

import (
	"crypto/subtle"
)

// SecureBytes wraps decrypted material so it can be cleared once the
// migration no longer needs it.
type SecureBytes struct {
	data []byte
}

// FromBytes copies data into a new SecureBytes and clears the source slice.
func FromBytes(data []byte) *SecureBytes {
	s := &SecureBytes{
		data: make([]byte, len(data)),
	}
	copy(s.data, data)
	for i := range data {
		data[i] = 0
	}
	return s
}

// FromString copies a decrypted string. The string itself cannot be cleared.
func FromString(v string) *SecureBytes {
	return &SecureBytes{data: []byte(v)}
}

// Bytes returns a copy of the plaintext.
func (s *SecureBytes) Bytes() []byte {
	if s == nil || s.data == nil {
		return nil
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// String returns the plaintext as a string. The result is not wiped by Zero.
func (s *SecureBytes) String() string {
	if s == nil {
		return ""
	}
	return string(s.data)
}

// Len returns the plaintext length in bytes.
func (s *SecureBytes) Len() int {
	if s == nil {
		return 0
	}
	return len(s.data)
}

// Zero clears the buffer. Further reads return empty values.
func (s *SecureBytes) Zero() {
	if s == nil || s.data == nil {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
	// keep the compiler from dropping the loop above
	subtle.ConstantTimeCopy(1, s.data, make([]byte, len(s.data)))
	s.data = nil
}

// Wipe zeroes and nils out a slice holding decrypted or secret input,
// typically via defer.
func Wipe(data *[]byte) {
	if data == nil || *data == nil {
		return
	}
	for i := range *data {
		(*data)[i] = 0
	}
	*data = nil
}
