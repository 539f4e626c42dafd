package eip

// Common Packet Format per ODVA v1.4. A CPF packet is an item count
// followed by address and data items.

import (
	"encoding/binary"
	"fmt"
)

const (
	CpfNullAddressId        uint16 = 0x0000
	CpfIdentityResponseId   uint16 = 0x000C
	CpfConnectedAddressId   uint16 = 0x00A1
	CpfConnectedDataId      uint16 = 0x00B1
	CpfUnconnectedDataId    uint16 = 0x00B2
	CpfListServicesId       uint16 = 0x0100
	CpfSockAddrInfoOtoTId   uint16 = 0x8000
	CpfSockAddrInfoTtoOId   uint16 = 0x8001
	CpfSequencedAddressId   uint16 = 0x8002
)

// CommonPacket wraps the list of CPF items.
type CommonPacket struct {
	Items []CommonPacketItem
}

// CommonPacketItem is the generic type/length/data item encoding.
type CommonPacketItem struct {
	TypeId uint16
	Length uint16
	Data   []byte
}

// Bytes renders the item count and every item, little-endian.
func (p *CommonPacket) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, uint16(len(p.Items)))
	for _, item := range p.Items {
		raw = append(raw, item.Bytes()...)
	}
	return raw
}

// Bytes renders one item. The length field is always len(Data).
func (item *CommonPacketItem) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, item.TypeId)
	raw = binary.LittleEndian.AppendUint16(raw, uint16(len(item.Data)))
	raw = append(raw, item.Data...)
	return raw
}

// UnconnectedPacket builds the two-item CPF used with SendRRData: a null
// address item and an unconnected data item carrying the CIP frame.
func UnconnectedPacket(cipFrame []byte) *CommonPacket {
	return &CommonPacket{
		Items: []CommonPacketItem{
			{TypeId: CpfNullAddressId, Length: 0, Data: nil},
			{TypeId: CpfUnconnectedDataId, Length: uint16(len(cipFrame)), Data: cipFrame},
		},
	}
}

// ConnectedPacket builds the two-item CPF used with SendUnitData: a
// connected address item carrying the O->T connection id and a connected
// data item whose payload already carries the sequence count.
func ConnectedPacket(connectionID uint32, seqFrame []byte) *CommonPacket {
	return &CommonPacket{
		Items: []CommonPacketItem{
			{TypeId: CpfConnectedAddressId, Length: 4, Data: binary.LittleEndian.AppendUint32(nil, connectionID)},
			{TypeId: CpfConnectedDataId, Length: uint16(len(seqFrame)), Data: seqFrame},
		},
	}
}

// ParseCommonPacket parses the item list from a raw CPF payload.
func ParseCommonPacket(raw []byte) (*CommonPacket, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("ParseCommonPacket: payload too short: minimum 2, got %d", len(raw))
	}

	itemCount := binary.LittleEndian.Uint16(raw[:2])
	raw = raw[2:]

	var items []CommonPacketItem
	for i := uint16(0); i < itemCount; i++ {
		if len(raw) < 4 {
			return nil, fmt.Errorf("ParseCommonPacket: truncated item header at item %d: have %d bytes", i, len(raw))
		}
		typeId := binary.LittleEndian.Uint16(raw[:2])
		length := binary.LittleEndian.Uint16(raw[2:4])
		need := int(4 + length)
		if len(raw) < need {
			return nil, fmt.Errorf("ParseCommonPacket: insufficient data for item %d: need %d bytes, have %d", i, need, len(raw))
		}
		items = append(items, CommonPacketItem{TypeId: typeId, Length: length, Data: raw[4:need]})
		raw = raw[need:]
	}

	return &CommonPacket{Items: items}, nil
}

// DataItem returns the payload of the first item matching typeId.
func (p *CommonPacket) DataItem(typeId uint16) ([]byte, bool) {
	for _, item := range p.Items {
		if item.TypeId == typeId {
			return item.Data, true
		}
	}
	return nil, false
}
