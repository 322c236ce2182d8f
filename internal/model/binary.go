package model

// Binary is an attachment payload as stored on an entry: a Plain or Protected
// value, possibly wrapped in a PooledBinary.
type Binary interface {
	isBinary()
}

// PooledBinary is a payload shared through the database binary pool. ID is
// the pool reference; Value holds the content.
type PooledBinary struct {
	ID    int
	Value Value
}

func (PooledBinary) isBinary() {}

// UnwrapBinary strips the pool wrapper and decrypts a protected payload.
func UnwrapBinary(b Binary) []byte {
	if pooled, ok := b.(PooledBinary); ok {
		return ResolveBytes(pooled.Value)
	}
	if v, ok := b.(Value); ok {
		return ResolveBytes(v)
	}
	return nil
}

// wipeBinary clears a protected payload, looking through the pool wrapper.
func wipeBinary(b Binary) {
	switch b := b.(type) {
	case PooledBinary:
		if p, ok := b.Value.(*Protected); ok {
			p.Wipe()
		}
	case *Protected:
		b.Wipe()
	}
}
