package cip

import (
	"encoding/binary"
	"fmt"
)

// CIP general status codes used at call sites.
const (
	StatusSuccess         byte = 0x00
	StatusPartialTransfer byte = 0x06
	StatusConnectionLost  byte = 0x07
	StatusEmbeddedService byte = 0x1E
)

// generalStatusNames maps the CIP general status byte to its text per
// the CIP specification, appendix B.
var generalStatusNames = map[byte]string{
	0x00: "Success",
	0x01: "Connection failure",
	0x02: "Resource unavailable",
	0x03: "Invalid parameter value",
	0x04: "Path segment error",
	0x05: "Path destination unknown",
	0x06: "Partial transfer",
	0x07: "Connection lost",
	0x08: "Service not supported",
	0x09: "Invalid Attribute",
	0x0A: "Attribute list error",
	0x0B: "Already in requested mode/state",
	0x0C: "Object state conflict",
	0x0D: "Object already exists",
	0x0E: "Attribute not settable",
	0x0F: "Privilege violation",
	0x10: "Device state conflict",
	0x11: "Reply data too large",
	0x12: "Fragmentation of a primitive value",
	0x13: "Not enough data",
	0x14: "Attribute not supported",
	0x15: "Too much data",
	0x16: "Object does not exist",
	0x17: "Service fragmentation sequence not in progress",
	0x18: "No stored attribute data",
	0x19: "Store operation failure",
	0x1A: "Routing failure, request packet too large",
	0x1B: "Routing failure, response packet too large",
	0x1C: "Missing attribute list entry data",
	0x1D: "Invalid attribute value list",
	0x1E: "Embedded service error",
	0x1F: "Vendor specific",
	0x20: "Invalid Parameter",
	0x21: "Write once value or medium already written",
	0x22: "Invalid reply received",
	0x23: "Buffer overflow",
	0x24: "Invalid message format",
	0x25: "Key failure in path",
	0x26: "Path size invalid",
	0x27: "Unexpected attribute in list",
	0x28: "Invalid member ID",
	0x29: "Member not settable",
	0x2A: "Group 2 only server general failure",
	0x2B: "Unknown Modbus error",
	0x2C: "Attribute not gettable",
}

// StatusName returns the text for a CIP general status byte. Unknown
// codes render as "Unknown error <n>".
func StatusName(status byte) string {
	if name, ok := generalStatusNames[status]; ok {
		return name
	}
	return fmt.Sprintf("Unknown error %d", status)
}

// Logix extended status codes seen in additional-status words.
var extendedStatusNames = map[uint16]string{
	0x0100: "Connection in use",
	0x0103: "Transport class not supported",
	0x0106: "Ownership conflict",
	0x0107: "Connection not found",
	0x0108: "Invalid connection type",
	0x0109: "Invalid connection size",
	0x0110: "Module not found",
	0x0111: "Connection request refused",
	0x0203: "Connection timed out",
	0x0204: "Unconnected send timed out",
	0x0205: "Parameter error",
	0x0311: "Connection request failed",
	0x0312: "Connection request rejected",
	0x2101: "Illegal data type",
	0x2104: "Tag not found",
	0x2105: "Tag read only",
	0x2107: "Size too small",
	0x2108: "Size too large",
	0x2109: "Offset out of range",
}

// ExtendedStatusName returns the text for a Logix extended status word.
func ExtendedStatusName(ext uint16) string {
	if name, ok := extendedStatusNames[ext]; ok {
		return name
	}
	return fmt.Sprintf("Extended status 0x%04X", ext)
}

// StatusText renders a general status plus any leading extended status
// word into a single display string.
func StatusText(status byte, addl []byte) string {
	name := StatusName(status)
	if status != StatusSuccess && len(addl) >= 2 {
		ext := binary.LittleEndian.Uint16(addl[:2])
		if ext != 0 {
			return fmt.Sprintf("%s (%s)", name, ExtendedStatusName(ext))
		}
	}
	return name
}
