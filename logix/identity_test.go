package logix

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseIdentityAttributes(t *testing.T) {
	var b []byte
	b = binary.LittleEndian.AppendUint16(b, 1)      // vendor
	b = binary.LittleEndian.AppendUint16(b, 0x0E)   // device type
	b = binary.LittleEndian.AppendUint16(b, 0x00A7) // product code
	b = append(b, 33, 12)                           // revision
	b = binary.LittleEndian.AppendUint16(b, 0x0060) // status
	b = binary.LittleEndian.AppendUint32(b, 0x00C0FFEE)
	name := "1769-L33ER"
	b = append(b, byte(len(name)))
	b = append(b, name...)
	b = append(b, 0x03) // state

	d, err := parseIdentityAttributes(b)
	require.NoError(t, err)
	require.Equal(t, uint16(1), d.VendorID)
	require.Equal(t, "Rockwell Automation/Allen-Bradley", d.Vendor)
	require.Equal(t, uint16(0x0E), d.DeviceTypeID)
	require.Equal(t, "Programmable Logic Controller", d.DeviceType)
	require.Equal(t, uint16(0x00A7), d.ProductCode)
	require.Equal(t, "33.12", d.Revision)
	require.Equal(t, uint16(0x0060), d.Status)
	require.Equal(t, "0x00C0FFEE", d.SerialHex)
	require.Equal(t, "1769-L33ER", d.ProductName)
	require.Equal(t, byte(0x03), d.State)
}

func TestParseIdentityAttributesTruncated(t *testing.T) {
	_, err := parseIdentityAttributes(make([]byte, 8))
	require.Error(t, err)

	b := make([]byte, 15)
	b[14] = 200 // name length past the buffer
	_, err = parseIdentityAttributes(b)
	require.Error(t, err)
}

func TestVendorAndDeviceTypeTables(t *testing.T) {
	require.Equal(t, "Rockwell Automation/Allen-Bradley", VendorName(1))
	require.Equal(t, "Honeywell", VendorName(3))
	require.Equal(t, "Siemens", VendorName(0x58))
	require.Equal(t, "Omron", VendorName(0x1EE))
	require.Equal(t, "Unknown", VendorName(0x7777))

	require.Equal(t, "Programmable Logic Controller", DeviceTypeName(0x0E))
	require.Equal(t, "Human-Machine Interface", DeviceTypeName(0x18))
	require.Equal(t, "Communications Adapter", DeviceTypeName(0x0C))
	require.Equal(t, "CIP Motion Drive", DeviceTypeName(0x25))
	require.Equal(t, "Unknown", DeviceTypeName(0x7777))
}
