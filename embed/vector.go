package embed

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Vector is one embedding. Persisted form is raw little-endian float32s,
// four bytes per dimension, no header.
type Vector []float32

// MarshalBinary renders the vector as little-endian float32 bytes.
func (v Vector) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary parses little-endian float32 bytes.
func (v *Vector) UnmarshalBinary(data []byte) error {
	if len(data)%4 != 0 {
		return errors.New("embedding blob length is not a multiple of 4")
	}
	*v = make(Vector, len(data)/4)
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, *v)
}
