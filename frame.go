package wrcgw

import "errors"

// Control prefixes recognized at the start of an SM7 frame.
const (
	ControlUSBLocal byte = 0x02
	ControlWRC      byte = 0x04
)

// frameEnd is the single-byte terminator of every SM7 frame. Every body byte
// has its LSB forced to 1 by the stuffing rule below, so 0x80 (all bits
// zero except the MSB) can never occur inside an encoded body, only at the
// true end.
const frameEnd byte = 0x80

var (
	// ErrFrameTooShort is returned when a frame has fewer than 2 bytes
	// (a control byte and the terminator).
	ErrFrameTooShort = errors.New("sm7: frame too short")
	// ErrBadControl is returned when the first byte is not a recognized
	// control prefix.
	ErrBadControl = errors.New("sm7: unrecognized control byte")
	// ErrBadTerminator is returned when the last byte is not the 0x80 end marker.
	ErrBadTerminator = errors.New("sm7: missing end marker")
)

// EncodeFrame wraps data in an SM7 frame under the given control prefix.
// Data bits are pushed MSB-first into a continuous stream; whenever the
// next slot to fill is the LSB of an output byte, a stuffing bit of 1 is
// written there first and the data bit spills into the next byte. The
// result is that every output byte's upper 7 bits carry payload and its
// LSB is always 1, so the body never contains a 0x80 byte.
func EncodeFrame(data []byte, control byte) []byte {
	out := make([]byte, 0, 2+len(data)+len(data)/7+1)
	out = append(out, control)

	var bits []bool
	for _, b := range data {
		for j := 7; j >= 0; j-- {
			if len(bits)%8 == 7 {
				bits = append(bits, true)
			}
			bits = append(bits, b&(1<<uint(j)) != 0)
		}
	}
	for len(bits)%8 != 0 {
		if len(bits)%8 == 7 {
			bits = append(bits, true)
		} else {
			bits = append(bits, false)
		}
	}

	for i := 0; i < len(bits); i += 8 {
		var b byte
		for j := 0; j < 8; j++ {
			if bits[i+j] {
				b |= 1 << uint(7-j)
			}
		}
		out = append(out, b)
	}

	out = append(out, frameEnd)
	return out
}

// DecodeFrame validates and unpacks an SM7 frame, returning the control
// prefix and the original unpacked payload.
func DecodeFrame(frame []byte) (control byte, data []byte, err error) {
	if len(frame) < 2 {
		return 0, nil, ErrFrameTooShort
	}
	control = frame[0]
	if control != ControlUSBLocal && control != ControlWRC {
		return 0, nil, ErrBadControl
	}
	if frame[len(frame)-1] != frameEnd {
		return 0, nil, ErrBadTerminator
	}

	body := frame[1 : len(frame)-1]
	var bits []bool
	for _, b := range body {
		// Bit 0 (the LSB) of every body byte is the stuffing bit written
		// by EncodeFrame; only bits 7..1 carry payload.
		for j := 7; j >= 1; j-- {
			bits = append(bits, b&(1<<uint(j)) != 0)
		}
	}
	bits = bits[:len(bits)/8*8]

	data = make([]byte, len(bits)/8)
	for i := range data {
		var b byte
		for j := 0; j < 8; j++ {
			if bits[i*8+j] {
				b |= 1 << uint(7-j)
			}
		}
		data[i] = b
	}
	return control, data, nil
}
