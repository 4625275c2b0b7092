package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Decoding errors.
var (
	ErrVarintOverflow     = errors.New("protocol: varint overflow")
	ErrInvalidBool        = errors.New("protocol: invalid boolean value")
	ErrAllocationTooLarge = errors.New("protocol: allocation size exceeds limit")
	ErrCollectionTooLarge = errors.New("protocol: collection count exceeds limit")
	ErrTrailingBytes      = errors.New("protocol: trailing bytes after message")
	ErrIndexTooLarge      = errors.New("protocol: file index exceeds limit")
)

// Decoder reads binary values from a byte slice. Every read checks bounds;
// a short buffer yields io.ErrUnexpectedEOF.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a decoder over buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// EOF reports whether every byte has been read.
func (d *Decoder) EOF() bool { return d.Remaining() <= 0 }

// Finish fails if unread bytes remain.
func (d *Decoder) Finish() error {
	if d.Remaining() > 0 {
		return ErrTrailingBytes
	}
	return nil
}

// take returns the next n bytes without copying.
func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos : d.pos+n : d.pos+n]
	d.pos += n
	return b, nil
}

// varint converts the (value, n) result of binary.Uvarint or
// binary.Varint into a position advance or an error.
func (d *Decoder) varint(n int) error {
	switch {
	case n > 0:
		d.pos += n
		return nil
	case n == 0:
		return io.ErrUnexpectedEOF
	default:
		return ErrVarintOverflow
	}
}

// ReadByte reads one byte.
func (d *Decoder) ReadByte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUvarint reads an unsigned varint.
func (d *Decoder) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	return v, d.varint(n)
}

// lenPrefixed reads a length prefix and the bytes it covers.
func (d *Decoder) lenPrefixed() ([]byte, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.Remaining()) {
		return nil, io.ErrUnexpectedEOF
	}
	if n > DefaultMaxAllocation {
		return nil, ErrAllocationTooLarge
	}
	return d.take(int(n))
}

// ReadString reads a length-prefixed string.
func (d *Decoder) ReadString() (string, error) {
	b, err := d.lenPrefixed()
	return string(b), err
}

// ReadStrings reads a counted list of strings. An empty list is nil.
func (d *Decoder) ReadStrings() ([]string, error) {
	count, err := d.ReadCollectionCount()
	if err != nil || count == 0 {
		return nil, err
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		s, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadLenBytes reads length-prefixed bytes. The result is a copy.
func (d *Decoder) ReadLenBytes() ([]byte, error) {
	b, err := d.lenPrefixed()
	if err != nil {
		return nil, err
	}
	return append([]byte{}, b...), nil
}

// ReadBool reads a strict boolean byte: 0x00 or 0x01.
func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	if b > 1 {
		return false, ErrInvalidBool
	}
	return b == 1, nil
}

// ReadUint16 reads a big-endian uint16.
func (d *Decoder) ReadUint16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadCollectionCount reads a list length and checks it against
// MaxCollectionCount and the bytes left (every element takes at least one).
func (d *Decoder) ReadCollectionCount() (int, error) {
	count, err := d.ReadUvarint()
	switch {
	case err != nil:
		return 0, err
	case count > MaxCollectionCount:
		return 0, ErrCollectionTooLarge
	case count > uint64(d.Remaining()):
		return 0, io.ErrUnexpectedEOF
	}
	return int(count), nil
}
