// Package codec turns typed values into the bytes a backend stores.
package codec

// Codec encodes and decodes values of V. Implementations must be safe for
// concurrent use; a Decode error makes the cache treat the entry as a miss.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
