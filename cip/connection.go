package cip

import (
	"encoding/binary"
	"fmt"
	"math/rand"
)

// Connection Manager services and addressing.
const (
	SvcForwardOpen      byte = 0x54 // standard, 16-bit connection parameters
	SvcForwardOpenLarge byte = 0x5B // large, 32-bit connection parameters
	SvcForwardClose     byte = 0x4E
	SvcUnconnectedSend  byte = 0x52

	ClassConnectionManager byte = 0x06
	InstanceConnMgr        byte = 0x01
)

// ForwardOpen timing and identity constants. The O->T connection id and
// originator identity are fixed values the Logix stack accepts; the
// remaining ids are drawn per session.
const (
	foPriority       byte   = 0x0A
	foTimeoutTicks   byte   = 0x0E
	foOTConnectionID uint32 = 0x20000002
	foVendorID       uint16 = 0x1337
	foOrigSerial     uint32 = 42
	foMultiplier     uint32 = 0x03
	foOTRPI          uint32 = 0x00201234
	foTORPI          uint32 = 0x00204001
	foParamsBase     uint16 = 0x4200
)

// Connection is an established CIP connection. The sequence counter is
// monotonically increasing modulo 2^16 and never takes the value zero.
type Connection struct {
	OTConnID     uint32 // connection id carried in SendUnitData address items
	TOConnID     uint32
	SerialNumber uint16
	VendorID     uint16
	OrigSerial   uint32
	Size         uint16

	seq uint16
}

// NextSequence returns the next connected-messaging sequence count,
// skipping zero on wrap.
func (c *Connection) NextSequence() uint16 {
	c.seq++
	if c.seq == 0 {
		c.seq = 1
	}
	return c.seq
}

// WrapConnected prefixes the next sequence count to a CIP request.
func (c *Connection) WrapConnected(cipFrame []byte) []byte {
	out := make([]byte, 2+len(cipFrame))
	binary.LittleEndian.PutUint16(out[0:2], c.NextSequence())
	copy(out[2:], cipFrame)
	return out
}

// UnwrapConnected strips the sequence count from a connected reply.
func (c *Connection) UnwrapConnected(raw []byte) (seq uint16, cipFrame []byte, err error) {
	if len(raw) < 2 {
		return 0, nil, fmt.Errorf("UnwrapConnected: connected data too short: %d bytes", len(raw))
	}
	return binary.LittleEndian.Uint16(raw[0:2]), raw[2:], nil
}

// ForwardOpenRequest describes one ForwardOpen attempt.
type ForwardOpenRequest struct {
	Size           uint16 // requested connection size in bytes
	ConnectionPath EPath  // route hops + Message Router terminator
	Rand           *rand.Rand
}

// BuildForwardOpen builds a ForwardOpen (0x54) or LargeForwardOpen
// (0x5B) frame, chosen by whether Size exceeds the standard 511-byte
// parameter range. It returns the frame and the pending connection
// carrying the identifiers that the close must echo.
func BuildForwardOpen(req ForwardOpenRequest) ([]byte, *Connection, error) {
	if len(req.ConnectionPath) == 0 {
		return nil, nil, fmt.Errorf("BuildForwardOpen: empty connection path")
	}
	if req.Rand == nil {
		return nil, nil, fmt.Errorf("BuildForwardOpen: nil random source")
	}

	large := req.Size > 511
	svc := SvcForwardOpen
	if large {
		svc = SvcForwardOpenLarge
	}

	toConnID := req.Rand.Uint32()
	connSerial := uint16(req.Rand.Intn(0x10000))

	data := make([]byte, 0, 40+len(req.ConnectionPath))
	data = append(data, svc)
	data = append(data, 0x02)                         // path size to Connection Manager, words
	data = append(data, 0x20, ClassConnectionManager) // class segment
	data = append(data, 0x24, InstanceConnMgr)        // instance segment

	data = append(data, foPriority, foTimeoutTicks)
	data = binary.LittleEndian.AppendUint32(data, foOTConnectionID)
	data = binary.LittleEndian.AppendUint32(data, toConnID)
	data = binary.LittleEndian.AppendUint16(data, connSerial)
	data = binary.LittleEndian.AppendUint16(data, foVendorID)
	data = binary.LittleEndian.AppendUint32(data, foOrigSerial)
	data = binary.LittleEndian.AppendUint32(data, foMultiplier)

	data = binary.LittleEndian.AppendUint32(data, foOTRPI)
	data = appendConnParams(data, req.Size, large)
	data = binary.LittleEndian.AppendUint32(data, foTORPI)
	data = appendConnParams(data, req.Size, large)

	data = append(data, 0xA3) // transport class 3, server trigger
	data = append(data, req.ConnectionPath.WordLen())
	data = append(data, req.ConnectionPath...)

	pending := &Connection{
		TOConnID:     toConnID,
		SerialNumber: connSerial,
		VendorID:     foVendorID,
		OrigSerial:   foOrigSerial,
		Size:         req.Size,
	}
	return data, pending, nil
}

func appendConnParams(data []byte, size uint16, large bool) []byte {
	if large {
		return binary.LittleEndian.AppendUint32(data, uint32(foParamsBase)<<16|uint32(size))
	}
	return binary.LittleEndian.AppendUint16(data, foParamsBase|size)
}

// ParseForwardOpenReply reads the granted O->T connection id from a
// successful ForwardOpen reply body (the bytes after the service reply
// header).
func ParseForwardOpenReply(data []byte) (otConnID uint32, toConnID uint32, err error) {
	if len(data) < 8 {
		return 0, 0, fmt.Errorf("ParseForwardOpenReply: reply too short: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint32(data[0:4]), binary.LittleEndian.Uint32(data[4:8]), nil
}

// BuildForwardClose builds the ForwardClose (0x4E) frame matching an
// established connection. Unlike ForwardOpen, the path size byte is
// followed by a reserved byte before the path.
func BuildForwardClose(conn *Connection, connectionPath EPath) ([]byte, error) {
	if conn == nil {
		return nil, fmt.Errorf("BuildForwardClose: nil connection")
	}
	if len(connectionPath)%2 != 0 {
		connectionPath = append(append(EPath{}, connectionPath...), 0x00)
	}

	data := make([]byte, 0, 18+len(connectionPath))
	data = append(data, SvcForwardClose)
	data = append(data, 0x02)
	data = append(data, 0x20, ClassConnectionManager)
	data = append(data, 0x24, InstanceConnMgr)

	data = append(data, foPriority, foTimeoutTicks)
	data = binary.LittleEndian.AppendUint16(data, conn.SerialNumber)
	data = binary.LittleEndian.AppendUint16(data, conn.VendorID)
	data = binary.LittleEndian.AppendUint32(data, conn.OrigSerial)
	data = append(data, connectionPath.WordLen())
	data = append(data, 0x00) // reserved
	data = append(data, connectionPath...)

	return data, nil
}

// BuildUnconnectedSend wraps an embedded service in an UnconnectedSend
// (0x52) through the Connection Manager, routing it along routePath.
// The embedded frame is padded to a word boundary when its length is odd.
func BuildUnconnectedSend(embedded []byte, routePath EPath) []byte {
	out := make([]byte, 0, 10+len(embedded)+1+len(routePath))
	out = append(out, SvcUnconnectedSend)
	out = append(out, 0x02)
	out = append(out, 0x20, ClassConnectionManager)
	out = append(out, 0x24, InstanceConnMgr)

	out = append(out, foPriority) // priority/time tick
	out = append(out, 0xFF)       // timeout ticks
	out = binary.LittleEndian.AppendUint16(out, uint16(len(embedded)))
	out = append(out, embedded...)
	if len(embedded)%2 != 0 {
		out = append(out, 0x00)
	}
	out = append(out, routePath.WordLen())
	out = append(out, 0x00) // reserved
	out = append(out, routePath...)
	return out
}

// UnwrapUnconnectedSendReply removes an UnconnectedSend reply envelope,
// returning the embedded reply. Frames that are not UnconnectedSend
// replies pass through untouched.
func UnwrapUnconnectedSendReply(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("UnwrapUnconnectedSendReply: reply too short: %d bytes", len(data))
	}
	if data[0] != (SvcUnconnectedSend | 0x80) {
		return data, nil
	}
	status := data[2]
	addlWords := int(data[3])
	if status != StatusSuccess {
		return nil, fmt.Errorf("UnwrapUnconnectedSendReply: %s", StatusText(status, data[4:]))
	}
	start := 4 + addlWords*2
	if start >= len(data) {
		return nil, fmt.Errorf("UnwrapUnconnectedSendReply: no embedded reply")
	}
	return data[start:], nil
}
