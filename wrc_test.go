package wrcgw

import (
	"reflect"
	"testing"
)

func TestWRCPacketRoundTrip(t *testing.T) {
	cases := []WRCPacket{
		{
			SequenceID: 1,
			MAC:        0x01020304,
			Flag:       NewPacketFlag(false, false, TypeGetInfo),
			Payload:    GetInfoPayload{Flag: NewGetInfoFlag(true, false, false, false, false)},
		},
		{
			SequenceID: 7,
			MAC:        0xDEADBEEF,
			Flag:       NewPacketFlag(true, false, TypeInfoSerial),
			Payload:    InfoSerialPayload{Serial: [16]byte{0xDE, 0xAD, 0xBE, 0xEF}},
		},
		{
			SequenceID: 1,
			MAC:        0x01020304,
			Flag:       NewPacketFlag(true, false, TypeSetJoint),
			Payload: SetJointPayload{
				TorqueSetpoint:  10000,
				TorqueUpperTol:  500,
				TorqueLowerTol:  500,
				TaskRepeatTimes: 1,
				TaskID:          1,
				FDT:             -1,
				FDA:             -1,
				Flag:            NewJointDataFlag(ModeTorque, MethodClick, UnitNm),
			},
		},
		{
			SequenceID: 2,
			MAC:        0x01020304,
			Flag:       NewPacketFlag(false, false, TypeClearJointData),
			Payload:    nil,
		},
		{
			SequenceID: 3,
			MAC:        0x01020304,
			Flag:       NewPacketFlag(false, false, TypeInlineJointData),
			Payload: InlineJointDataPayload{
				TaskID:  1,
				JointID: 0,
				Torque:  10100,
				Angle:   900,
				Flag:    1 << 1, // IsOK
			},
		},
	}

	for _, want := range cases {
		raw := EncodeWRCPacket(want)
		got, err := DecodeWRCPacket(raw)
		if err != nil {
			t.Fatalf("DecodeWRCPacket: %v", err)
		}
		if got.SequenceID != want.SequenceID || got.MAC != want.MAC || got.Flag != want.Flag {
			t.Fatalf("header mismatch: got %+v, want %+v", got, want)
		}
		if !reflect.DeepEqual(got.Payload, want.Payload) {
			t.Fatalf("payload mismatch: got %#v, want %#v", got.Payload, want.Payload)
		}
		if got.Flag.Type() != want.Flag.Type() {
			t.Fatalf("type mismatch: got %v, want %v", got.Flag.Type(), want.Flag.Type())
		}
	}
}

func TestDecodeWRCPacketErrors(t *testing.T) {
	if _, err := DecodeWRCPacket(make([]byte, 5)); err != ErrPacketTooShort {
		t.Fatalf("got %v, want ErrPacketTooShort", err)
	}

	// Valid header, payload_len says 4 but only 2 bytes follow.
	raw := []byte{1, 0, 0, 0, 0, 0, byte(NewPacketFlag(false, false, TypeInfoGeneric)), 4, 0, 0}
	if _, err := DecodeWRCPacket(raw); err != ErrPayloadLenMismatch {
		t.Fatalf("got %v, want ErrPayloadLenMismatch", err)
	}

	// Unknown type (0, never sent on the wire).
	raw = []byte{1, 0, 0, 0, 0, 0, byte(NewPacketFlag(false, false, 0)), 0}
	if _, err := DecodeWRCPacket(raw); err != ErrUnknownPacketType {
		t.Fatalf("got %v, want ErrUnknownPacketType", err)
	}
}

func TestInlineJointDataFlagBits(t *testing.T) {
	f := InlineJointDataFlag(0)
	if f.IsValid() || f.IsOK() {
		t.Fatalf("zero flag should have no bits set")
	}
	f = InlineJointDataFlag(1<<0 | 1<<1)
	if !f.IsValid() || !f.IsOK() {
		t.Fatalf("expected valid+ok bits set")
	}
}
