package wrcgw

import (
	"encoding/binary"
	"errors"
)

// WRCPacketType identifies the payload carried by a WRCPacket. Values 1-15
// are assigned by the wrench firmware; 0 is never sent on the wire.
type WRCPacketType uint8

const (
	TypeInfoGeneric WRCPacketType = iota + 1
	TypeInfoSerial
	TypeInfoTiming
	TypeInfoEnergy
	TypeInfoNetwork
	TypeGetInfo
	TypeSetJoint
	TypeSetWrenchTime
	TypeGetJointData
	TypeClearJointData
	TypeGetStatusReport
	TypeBeep
	TypeJointData
	TypeStatusReport
	TypeInlineJointData
)

// JointDataMode selects which measurement a joint-data record reports.
type JointDataMode uint8

const (
	ModeTorque JointDataMode = iota
	ModeAngle
	ModeTorqueAngle
	ModeAngleTorque
)

// JointDataMethod selects how the wrench measured a joint cycle.
type JointDataMethod uint8

const (
	MethodClick JointDataMethod = iota
	MethodPeak
	MethodTrack
)

// JointDataUnit selects the physical unit a joint-data record is reported in.
type JointDataUnit uint8

const (
	UnitNm JointDataUnit = iota
	UnitInlb
	UnitFtlb
)

var (
	ErrPacketTooShort      = errors.New("wrc: packet too short")
	ErrPayloadLenMismatch  = errors.New("wrc: payload length mismatch")
	ErrUnknownPacketType   = errors.New("wrc: unknown packet type")
)

// PacketFlag packs direction (bit 0), variable-length marker (bit 1) and
// packet type (bits 2-7) into a single byte, mirroring the wire layout.
type PacketFlag uint8

func NewPacketFlag(fromServer bool, variableLen bool, t WRCPacketType) PacketFlag {
	var f uint8
	if fromServer {
		f |= 1 << 0
	}
	if variableLen {
		f |= 1 << 1
	}
	f |= uint8(t) << 2
	return PacketFlag(f)
}

func (f PacketFlag) FromServer() bool    { return f&(1<<0) != 0 }
func (f PacketFlag) VariableLen() bool   { return f&(1<<1) != 0 }
func (f PacketFlag) Type() WRCPacketType { return WRCPacketType(f >> 2) }

// InfoEnergyFlag reports battery/charging state bits carried in InfoEnergy.
type InfoEnergyFlag uint8

func (f InfoEnergyFlag) IsCharging() bool       { return f&(1<<0) != 0 }
func (f InfoEnergyFlag) IsHibernated() bool     { return f&(1<<1) != 0 }
func (f InfoEnergyFlag) IsPowerConnected() bool { return f&(1<<2) != 0 }

// GetInfoFlag selects which info sub-reports a GetInfo request asks for.
type GetInfoFlag uint8

func NewGetInfoFlag(serial, generic, energy, timing, network bool) GetInfoFlag {
	var f uint8
	if serial {
		f |= 1 << 0
	}
	if generic {
		f |= 1 << 1
	}
	if energy {
		f |= 1 << 2
	}
	if timing {
		f |= 1 << 3
	}
	if network {
		f |= 1 << 4
	}
	return GetInfoFlag(f)
}

func (f GetInfoFlag) IsSerial() bool  { return f&(1<<0) != 0 }
func (f GetInfoFlag) IsGeneric() bool { return f&(1<<1) != 0 }
func (f GetInfoFlag) IsEnergy() bool  { return f&(1<<2) != 0 }
func (f GetInfoFlag) IsTiming() bool  { return f&(1<<3) != 0 }
func (f GetInfoFlag) IsNetwork() bool { return f&(1<<4) != 0 }

// JointDataFlag packs mode/method/unit for an outbound SetJoint payload.
type JointDataFlag uint8

func NewJointDataFlag(mode JointDataMode, method JointDataMethod, unit JointDataUnit) JointDataFlag {
	return JointDataFlag(uint8(mode&0x3)<<2 | uint8(method&0x3)<<4 | uint8(unit&0x3)<<6)
}

func (f JointDataFlag) Mode() JointDataMode     { return JointDataMode((f >> 2) & 0x3) }
func (f JointDataFlag) Method() JointDataMethod { return JointDataMethod((f >> 4) & 0x3) }
func (f JointDataFlag) Unit() JointDataUnit     { return JointDataUnit((f >> 6) & 0x3) }

// InlineJointDataFlag packs validity/pass bits and mode/method/unit for an
// inbound InlineJointData record.
type InlineJointDataFlag uint8

func (f InlineJointDataFlag) IsValid() bool           { return f&(1<<0) != 0 }
func (f InlineJointDataFlag) IsOK() bool              { return f&(1<<1) != 0 }
func (f InlineJointDataFlag) Mode() JointDataMode      { return JointDataMode((f >> 2) & 0x3) }
func (f InlineJointDataFlag) Method() JointDataMethod  { return JointDataMethod((f >> 4) & 0x3) }
func (f InlineJointDataFlag) Unit() JointDataUnit      { return JointDataUnit((f >> 6) & 0x3) }

type InfoGenericPayload struct {
	JointCount            uint16
	LastServerPacketSeqID uint16
}

type InfoSerialPayload struct {
	Serial [16]byte
}

type InfoTimingPayload struct {
	CPUTicks   uint32
	WrenchTime uint32
}

type InfoEnergyPayload struct {
	Flag             InfoEnergyFlag
	BatteryVoltageMV uint16
}

type InfoNetworkPackets struct {
	Collisions      uint16
	CRCErrors       uint16
	TxCount         uint16
	RxWantedCount   uint16
	RxUnwantedCount uint16
}

type InfoNetworkRF struct {
	RxRSSI int8
	RxSNR  int8
	RxRSCP int8
}

type InfoNetworkPayload struct {
	Packets InfoNetworkPackets
	RF      InfoNetworkRF
}

type GetInfoPayload struct {
	Flag GetInfoFlag
}

// SetJointPayload is the 33-byte outbound work-order payload: torque and
// angle setpoints and tolerances in scaled integer units, plus the sentinel
// fdt/fda fields, which the gateway always sends as -1 (not used).
type SetJointPayload struct {
	TorqueSetpoint   int32
	TorqueAngleStart int32
	TorqueUpperTol   int32
	TorqueLowerTol   int32
	Angle            int16
	AngleUpperTol    int16
	AngleLowerTol    int16
	FDT              int32
	FDA              int16
	TaskRepeatTimes  uint16
	TaskID           uint16
	Flag             JointDataFlag
}

type SetWrenchTimePayload struct {
	UnixTime uint32
}

type GetJointDataPayload struct {
	JointIDStart uint16
	JointCount   uint8
}

type StatusReportPayload struct {
	TargetSeqID uint16
	Status      uint16
}

// InlineJointDataPayload is the 15-byte inbound per-cycle result.
type InlineJointDataPayload struct {
	JointID  uint16
	TaskID   uint16
	UnixTime uint32
	Flag     InlineJointDataFlag
	Torque   int32
	Angle    int16
}

// WRCPacket is a single decoded application packet. Payload holds one of
// the Info*/Set*/Get*/StatusReport/InlineJointData structs above, or nil for
// the four no-payload types (ClearJointData, GetStatusReport, Beep, JointData).
type WRCPacket struct {
	SequenceID uint16
	MAC        uint32
	Flag       PacketFlag
	Payload    any
}

// DecodeWRCPacket parses a WRC packet from raw (already SM7-unframed) bytes.
func DecodeWRCPacket(b []byte) (WRCPacket, error) {
	if len(b) < 8 {
		return WRCPacket{}, ErrPacketTooShort
	}
	seq := binary.LittleEndian.Uint16(b[0:2])
	mac := binary.LittleEndian.Uint32(b[2:6])
	flag := PacketFlag(b[6])
	payloadLen := b[7]
	payload := b[8:]
	if len(payload) != int(payloadLen) {
		return WRCPacket{}, ErrPayloadLenMismatch
	}

	pkt := WRCPacket{SequenceID: seq, MAC: mac, Flag: flag}

	switch flag.Type() {
	case TypeInfoGeneric:
		if len(payload) < 4 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		pkt.Payload = InfoGenericPayload{
			JointCount:            binary.LittleEndian.Uint16(payload[0:2]),
			LastServerPacketSeqID: binary.LittleEndian.Uint16(payload[2:4]),
		}
	case TypeInfoSerial:
		if len(payload) < 16 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		var p InfoSerialPayload
		copy(p.Serial[:], payload[0:16])
		pkt.Payload = p
	case TypeInfoTiming:
		if len(payload) < 8 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		pkt.Payload = InfoTimingPayload{
			CPUTicks:   binary.LittleEndian.Uint32(payload[0:4]),
			WrenchTime: binary.LittleEndian.Uint32(payload[4:8]),
		}
	case TypeInfoEnergy:
		if len(payload) < 3 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		pkt.Payload = InfoEnergyPayload{
			Flag:             InfoEnergyFlag(payload[0]),
			BatteryVoltageMV: binary.LittleEndian.Uint16(payload[1:3]),
		}
	case TypeInfoNetwork:
		if len(payload) < 13 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		pkt.Payload = InfoNetworkPayload{
			Packets: InfoNetworkPackets{
				Collisions:      binary.LittleEndian.Uint16(payload[0:2]),
				CRCErrors:       binary.LittleEndian.Uint16(payload[2:4]),
				TxCount:         binary.LittleEndian.Uint16(payload[4:6]),
				RxWantedCount:   binary.LittleEndian.Uint16(payload[6:8]),
				RxUnwantedCount: binary.LittleEndian.Uint16(payload[8:10]),
			},
			RF: InfoNetworkRF{
				RxRSSI: int8(payload[10]),
				RxSNR:  int8(payload[11]),
				RxRSCP: int8(payload[12]),
			},
		}
	case TypeGetInfo:
		if len(payload) < 1 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		pkt.Payload = GetInfoPayload{Flag: GetInfoFlag(payload[0])}
	case TypeSetJoint:
		if len(payload) < 33 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		pkt.Payload = SetJointPayload{
			TorqueSetpoint:   int32(binary.LittleEndian.Uint32(payload[0:4])),
			TorqueAngleStart: int32(binary.LittleEndian.Uint32(payload[4:8])),
			TorqueUpperTol:   int32(binary.LittleEndian.Uint32(payload[8:12])),
			TorqueLowerTol:   int32(binary.LittleEndian.Uint32(payload[12:16])),
			Angle:            int16(binary.LittleEndian.Uint16(payload[16:18])),
			AngleUpperTol:    int16(binary.LittleEndian.Uint16(payload[18:20])),
			AngleLowerTol:    int16(binary.LittleEndian.Uint16(payload[20:22])),
			FDT:              int32(binary.LittleEndian.Uint32(payload[22:26])),
			FDA:              int16(binary.LittleEndian.Uint16(payload[26:28])),
			TaskRepeatTimes:  binary.LittleEndian.Uint16(payload[28:30]),
			TaskID:           binary.LittleEndian.Uint16(payload[30:32]),
			Flag:             JointDataFlag(payload[32]),
		}
	case TypeSetWrenchTime:
		if len(payload) < 4 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		pkt.Payload = SetWrenchTimePayload{UnixTime: binary.LittleEndian.Uint32(payload[0:4])}
	case TypeGetJointData:
		if len(payload) < 3 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		pkt.Payload = GetJointDataPayload{
			JointIDStart: binary.LittleEndian.Uint16(payload[0:2]),
			JointCount:   payload[2],
		}
	case TypeClearJointData, TypeGetStatusReport, TypeBeep, TypeJointData:
		pkt.Payload = nil
	case TypeStatusReport:
		if len(payload) < 4 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		pkt.Payload = StatusReportPayload{
			TargetSeqID: binary.LittleEndian.Uint16(payload[0:2]),
			Status:      binary.LittleEndian.Uint16(payload[2:4]),
		}
	case TypeInlineJointData:
		if len(payload) < 15 {
			return WRCPacket{}, ErrPayloadLenMismatch
		}
		pkt.Payload = InlineJointDataPayload{
			JointID:  binary.LittleEndian.Uint16(payload[0:2]),
			TaskID:   binary.LittleEndian.Uint16(payload[2:4]),
			UnixTime: binary.LittleEndian.Uint32(payload[4:8]),
			Flag:     InlineJointDataFlag(payload[8]),
			Torque:   int32(binary.LittleEndian.Uint32(payload[9:13])),
			Angle:    int16(binary.LittleEndian.Uint16(payload[13:15])),
		}
	default:
		return WRCPacket{}, ErrUnknownPacketType
	}

	return pkt, nil
}

// EncodeWRCPacket serializes a packet. It never fails for well-formed
// values; payload_len is computed from the encoded payload, not trusted
// from caller state.
func EncodeWRCPacket(p WRCPacket) []byte {
	var payload []byte

	switch v := p.Payload.(type) {
	case InfoGenericPayload:
		payload = make([]byte, 4)
		binary.LittleEndian.PutUint16(payload[0:2], v.JointCount)
		binary.LittleEndian.PutUint16(payload[2:4], v.LastServerPacketSeqID)
	case InfoSerialPayload:
		payload = append([]byte(nil), v.Serial[:]...)
	case InfoTimingPayload:
		payload = make([]byte, 8)
		binary.LittleEndian.PutUint32(payload[0:4], v.CPUTicks)
		binary.LittleEndian.PutUint32(payload[4:8], v.WrenchTime)
	case InfoEnergyPayload:
		payload = make([]byte, 3)
		payload[0] = byte(v.Flag)
		binary.LittleEndian.PutUint16(payload[1:3], v.BatteryVoltageMV)
	case InfoNetworkPayload:
		payload = make([]byte, 13)
		binary.LittleEndian.PutUint16(payload[0:2], v.Packets.Collisions)
		binary.LittleEndian.PutUint16(payload[2:4], v.Packets.CRCErrors)
		binary.LittleEndian.PutUint16(payload[4:6], v.Packets.TxCount)
		binary.LittleEndian.PutUint16(payload[6:8], v.Packets.RxWantedCount)
		binary.LittleEndian.PutUint16(payload[8:10], v.Packets.RxUnwantedCount)
		payload[10] = byte(v.RF.RxRSSI)
		payload[11] = byte(v.RF.RxSNR)
		payload[12] = byte(v.RF.RxRSCP)
	case GetInfoPayload:
		payload = []byte{byte(v.Flag)}
	case SetJointPayload:
		payload = make([]byte, 33)
		binary.LittleEndian.PutUint32(payload[0:4], uint32(v.TorqueSetpoint))
		binary.LittleEndian.PutUint32(payload[4:8], uint32(v.TorqueAngleStart))
		binary.LittleEndian.PutUint32(payload[8:12], uint32(v.TorqueUpperTol))
		binary.LittleEndian.PutUint32(payload[12:16], uint32(v.TorqueLowerTol))
		binary.LittleEndian.PutUint16(payload[16:18], uint16(v.Angle))
		binary.LittleEndian.PutUint16(payload[18:20], uint16(v.AngleUpperTol))
		binary.LittleEndian.PutUint16(payload[20:22], uint16(v.AngleLowerTol))
		binary.LittleEndian.PutUint32(payload[22:26], uint32(v.FDT))
		binary.LittleEndian.PutUint16(payload[26:28], uint16(v.FDA))
		binary.LittleEndian.PutUint16(payload[28:30], v.TaskRepeatTimes)
		binary.LittleEndian.PutUint16(payload[30:32], v.TaskID)
		payload[32] = byte(v.Flag)
	case SetWrenchTimePayload:
		payload = make([]byte, 4)
		binary.LittleEndian.PutUint32(payload[0:4], v.UnixTime)
	case GetJointDataPayload:
		payload = make([]byte, 3)
		binary.LittleEndian.PutUint16(payload[0:2], v.JointIDStart)
		payload[2] = v.JointCount
	case StatusReportPayload:
		payload = make([]byte, 4)
		binary.LittleEndian.PutUint16(payload[0:2], v.TargetSeqID)
		binary.LittleEndian.PutUint16(payload[2:4], v.Status)
	case InlineJointDataPayload:
		payload = make([]byte, 15)
		binary.LittleEndian.PutUint16(payload[0:2], v.JointID)
		binary.LittleEndian.PutUint16(payload[2:4], v.TaskID)
		binary.LittleEndian.PutUint32(payload[4:8], v.UnixTime)
		payload[8] = byte(v.Flag)
		binary.LittleEndian.PutUint32(payload[9:13], uint32(v.Torque))
		binary.LittleEndian.PutUint16(payload[13:15], uint16(v.Angle))
	default:
		payload = nil // ClearJointData, GetStatusReport, Beep, JointData
	}

	out := make([]byte, 8, 8+len(payload))
	binary.LittleEndian.PutUint16(out[0:2], p.SequenceID)
	binary.LittleEndian.PutUint32(out[2:6], p.MAC)
	out[6] = byte(p.Flag)
	out[7] = byte(len(payload))
	out = append(out, payload...)
	return out
}
