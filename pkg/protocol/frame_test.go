package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestFrameEncodeDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{name: "empty_payload", frame: Frame{Type: FrameReload, Payload: []byte{}}},
		{name: "with_payload", frame: Frame{Type: FrameUpdate, Payload: []byte{0x01, 0x02, 0x03}}},
		{name: "with_flags", frame: Frame{Type: FrameUpdate, Flags: FlagReplay | FlagFinal, Payload: []byte("x")}},
		{name: "large", frame: Frame{Type: FrameConsole, Payload: bytes.Repeat([]byte{0xAB}, 70_000)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := tc.frame.Encode()
			if want := FrameHeaderSize + len(tc.frame.Payload); len(encoded) != want {
				t.Errorf("Encode() length = %d, want %d", len(encoded), want)
			}

			decoded, err := DecodeFrame(encoded)
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if decoded.Type != tc.frame.Type || decoded.Flags != tc.frame.Flags {
				t.Errorf("header = %v/%v, want %v/%v", decoded.Type, decoded.Flags, tc.frame.Type, tc.frame.Flags)
			}
			if !bytes.Equal(decoded.Payload, tc.frame.Payload) {
				t.Error("payload mismatch")
			}

			read, err := ReadFrame(bytes.NewReader(encoded))
			if err != nil {
				t.Fatalf("ReadFrame() error = %v", err)
			}
			if !bytes.Equal(read.Payload, tc.frame.Payload) {
				t.Error("ReadFrame payload mismatch")
			}
		})
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	valid := NewFrame(FrameHello, []byte{1, 2, 3}).Encode()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "short_header", data: valid[:3], want: io.ErrUnexpectedEOF},
		{name: "short_payload", data: valid[:len(valid)-1], want: io.ErrUnexpectedEOF},
		{name: "trailing", data: append(append([]byte(nil), valid...), 0), want: ErrTrailingBytes},
		{name: "unknown_type", data: []byte{0x7F, 0, 0, 0, 0, 0}, want: ErrInvalidFrameType},
		{name: "too_large", data: []byte{byte(FrameUpdate), 0, 0xFF, 0xFF, 0xFF, 0xFF}, want: ErrFrameTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeFrame(tc.data)
			if !errors.Is(err, tc.want) {
				t.Errorf("DecodeFrame() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestWriteReadFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	frames := []*Frame{
		NewFrame(FrameHello, EncodeHello(NewHello("k", 3))),
		{Type: FrameUpdate, Flags: FlagReplay, Payload: EncodeUpdate(&UpdateBatch{Generation: 4})},
		{Type: FrameUpdate, Flags: FlagReplay | FlagFinal, Payload: EncodeUpdate(&UpdateBatch{Generation: 5})},
	}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatal(err)
		}
	}

	for i, want := range frames {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got.Type != want.Type || got.Flags != want.Flags || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("frame %d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("ReadFrame() at end = %v, want io.EOF", err)
	}
}

func TestFrameTypeString(t *testing.T) {
	for ft := FrameHello; ft <= FrameError; ft++ {
		if ft.String() == "Unknown" {
			t.Errorf("FrameType(%d) has no name", ft)
		}
	}
	if FrameType(0).Valid() || FrameType(0x07).Valid() {
		t.Error("out-of-range frame type reported valid")
	}
}
