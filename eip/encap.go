package eip

import (
	"encoding/binary"
	"fmt"
)

// EtherNet/IP encapsulation commands per ODVA v1.4.
const (
	CmdNop               uint16 = 0x0000
	CmdListIdentity      uint16 = 0x0063
	CmdRegisterSession   uint16 = 0x0065
	CmdUnRegisterSession uint16 = 0x0066
	CmdSendRRData        uint16 = 0x006F
	CmdSendUnitData      uint16 = 0x0070
)

// EncapHeaderSize is the fixed size of the encapsulation header.
const EncapHeaderSize = 24

// Encap is a generic EtherNet/IP encapsulation frame. The wire Length
// field always reflects len(Data) when built through Bytes().
type Encap struct {
	Command       uint16
	Length        uint16
	SessionHandle uint32
	Status        uint32
	Context       [8]byte
	Options       uint32
	Data          []byte
}

// Bytes renders the 24-byte header followed by the payload, little-endian.
func (m *Encap) Bytes() []byte {
	buf := make([]byte, 0, EncapHeaderSize+len(m.Data))
	buf = binary.LittleEndian.AppendUint16(buf, m.Command)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Data)))
	buf = binary.LittleEndian.AppendUint32(buf, m.SessionHandle)
	buf = binary.LittleEndian.AppendUint32(buf, m.Status)
	buf = append(buf, m.Context[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, m.Options)
	buf = append(buf, m.Data...)
	return buf
}

// ParseEncap parses a complete encapsulation frame (header + payload).
func ParseEncap(raw []byte) (*Encap, error) {
	if len(raw) < EncapHeaderSize {
		return nil, fmt.Errorf("ParseEncap: frame too short: need %d, got %d", EncapHeaderSize, len(raw))
	}
	length := binary.LittleEndian.Uint16(raw[2:4])
	if len(raw) < EncapHeaderSize+int(length) {
		return nil, fmt.Errorf("ParseEncap: truncated payload: need %d, got %d", length, len(raw)-EncapHeaderSize)
	}
	var ctx [8]byte
	copy(ctx[:], raw[12:20])
	return &Encap{
		Command:       binary.LittleEndian.Uint16(raw[0:2]),
		Length:        length,
		SessionHandle: binary.LittleEndian.Uint32(raw[4:8]),
		Status:        binary.LittleEndian.Uint32(raw[8:12]),
		Context:       ctx,
		Options:       binary.LittleEndian.Uint32(raw[20:24]),
		Data:          raw[EncapHeaderSize : EncapHeaderSize+int(length)],
	}, nil
}

// CommandData is the common prefix of SendRRData and SendUnitData payloads:
// interface handle, timeout, then the CPF packet.
type CommandData struct {
	InterfaceHandle uint32
	Timeout         uint16
	Packet          []byte
}

// Bytes renders the command-specific data, little-endian.
func (r *CommandData) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint32(nil, r.InterfaceHandle)
	raw = binary.LittleEndian.AppendUint16(raw, r.Timeout)
	raw = append(raw, r.Packet...)
	return raw
}

// ParseCommandData splits an RRData/UnitData payload into its parts.
func ParseCommandData(raw []byte) (*CommandData, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("ParseCommandData: payload too short: minimum 8, got %d", len(raw))
	}
	return &CommandData{
		InterfaceHandle: binary.LittleEndian.Uint32(raw[:4]),
		Timeout:         binary.LittleEndian.Uint16(raw[4:6]),
		Packet:          raw[6:],
	}, nil
}
