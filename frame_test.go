package wrcgw

import (
	"bytes"
	"testing"
)

func TestEncodeFrameS1(t *testing.T) {
	got := EncodeFrame([]byte{0xCA, 0xFE, 0xBA, 0xBE}, ControlWRC)
	want := []byte{0x04, 0xCB, 0x7F, 0xAF, 0x57, 0xE1, 0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeFrame = % X, want % X", got, want)
	}

	got = EncodeFrame(nil, ControlWRC)
	want = []byte{0x04, 0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeFrame(nil) = % X, want % X", got, want)
	}
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xCA, 0xFE, 0xBA, 0xBE},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		bytes.Repeat([]byte{0x80}, 9), // exercise bytes equal to the terminator
	}
	for _, kind := range []byte{ControlUSBLocal, ControlWRC} {
		for _, data := range cases {
			frame := EncodeFrame(data, kind)
			gotKind, gotData, err := DecodeFrame(frame)
			if err != nil {
				t.Fatalf("DecodeFrame(%x) error: %v", frame, err)
			}
			if gotKind != kind {
				t.Fatalf("control = %x, want %x", gotKind, kind)
			}
			if !bytes.Equal(gotData, data) {
				t.Fatalf("DecodeFrame(EncodeFrame(%x)) = %x, want %x", data, gotData, data)
			}
		}
	}
}

func TestDecodeFrameFixture(t *testing.T) {
	frame := []byte{0x02, 0xcb, 0x7f, 0xaf, 0x57, 0xe1, 0x80}
	kind, data, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != ControlUSBLocal {
		t.Fatalf("control = %x, want USBLocal", kind)
	}
	want := []byte{0xCA, 0xFE, 0xBA, 0xBE}
	if !bytes.Equal(data, want) {
		t.Fatalf("data = % X, want % X", data, want)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	if _, _, err := DecodeFrame(nil); err != ErrFrameTooShort {
		t.Fatalf("empty frame: got %v, want ErrFrameTooShort", err)
	}
	if _, _, err := DecodeFrame([]byte{0x80}); err != ErrFrameTooShort {
		t.Fatalf("1-byte frame: got %v, want ErrFrameTooShort", err)
	}
	if _, _, err := DecodeFrame([]byte{0x99, 0x80}); err != ErrBadControl {
		t.Fatalf("bad control: got %v, want ErrBadControl", err)
	}
	if _, _, err := DecodeFrame([]byte{0x02, 0x7f}); err != ErrBadTerminator {
		t.Fatalf("bad terminator: got %v, want ErrBadTerminator", err)
	}
}
