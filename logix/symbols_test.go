package logix

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func appendSymbolEntry(b []byte, instance uint32, name string, symbolType uint16, dims [3]uint32) []byte {
	b = binary.LittleEndian.AppendUint32(b, instance)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(name)))
	b = append(b, name...)
	b = binary.LittleEndian.AppendUint16(b, symbolType)
	for _, d := range dims {
		b = binary.LittleEndian.AppendUint32(b, d)
	}
	return b
}

func TestParseSymbolPage(t *testing.T) {
	var data []byte
	data = appendSymbolEntry(data, 2, "HeartBeat", 0x00C4, [3]uint32{})
	data = appendSymbolEntry(data, 7, "Grid", 0x40C4, [3]uint32{4, 8, 0})
	data = appendSymbolEntry(data, 9, "Recipe", 0x8FCE, [3]uint32{})

	tags, last := parseSymbolPage(data)
	require.Len(t, tags, 3)
	require.Equal(t, uint32(9), last)

	require.Equal(t, "HeartBeat", tags[0].Name)
	require.Equal(t, uint32(2), tags[0].InstanceID)
	require.Equal(t, uint16(0x0C4), tags[0].DataTypeValue)
	require.Equal(t, byte(0xC4), tags[0].SymbolType)
	require.Equal(t, byte(0), tags[0].ArrayDim)
	require.False(t, tags[0].IsStruct)
	require.Equal(t, uint32(0), tags[0].ElementCount)

	// 0x40C4: bits 13-14 = 2 -> two-dimensional array.
	require.Equal(t, byte(2), tags[1].ArrayDim)
	require.Equal(t, uint32(32), tags[1].ElementCount)

	// 0x8FCE: bit 15 set -> structure, template 0xFCE.
	require.True(t, tags[2].IsStruct)
	require.Equal(t, uint16(0x0FCE), tags[2].DataTypeValue)
}

func TestParseSymbolPageTruncatedTail(t *testing.T) {
	var data []byte
	data = appendSymbolEntry(data, 2, "Good", 0x00C4, [3]uint32{})
	data = append(data, 0x03, 0x00, 0x00, 0x00, 0x20, 0x00) // truncated entry

	tags, last := parseSymbolPage(data)
	require.Len(t, tags, 1)
	require.Equal(t, uint32(2), last)
}

func TestSymbolInstanceIDsIncrease(t *testing.T) {
	var data []byte
	data = appendSymbolEntry(data, 3, "A", 0x00C4, [3]uint32{})
	data = appendSymbolEntry(data, 5, "B", 0x00C4, [3]uint32{})
	data = appendSymbolEntry(data, 11, "C", 0x00C4, [3]uint32{})

	tags, last := parseSymbolPage(data)
	require.Equal(t, uint32(11), last)
	for i := 1; i < len(tags); i++ {
		require.Greater(t, tags[i].InstanceID, tags[i-1].InstanceID)
	}
}

func TestTagIsProgram(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{"Program:MainProgram", true},
		{"Program:MainProgram.Count", false},
		{"HeartBeat", false},
		{"Program:", true},
	}
	for _, tc := range tests {
		tag := Tag{Name: tc.name}
		if got := tag.IsProgram(); got != tc.expected {
			t.Errorf("IsProgram(%q) = %v, want %v", tc.name, got, tc.expected)
		}
	}
}

func TestIsFilteredName(t *testing.T) {
	filtered := []string{
		"__DEBUG",
		"SomeTag__Internal",
		"MainProgram.Routine:Init",
		"Map:LocalENB",
		"Task:MainTask",
		"UDI:Something",
	}
	for _, name := range filtered {
		if !isFilteredName(name) {
			t.Errorf("isFilteredName(%q) = false, want true", name)
		}
	}

	kept := []string{"HeartBeat", "Program:MainProgram", "My_Tag", "Routine"}
	for _, name := range kept {
		if isFilteredName(name) {
			t.Errorf("isFilteredName(%q) = true, want false", name)
		}
	}
}

func TestTagTypeName(t *testing.T) {
	require.Equal(t, "DINT", Tag{DataTypeValue: 0x0C4}.TypeName())
	require.Equal(t, "DINT[]", Tag{DataTypeValue: 0x0C4, ArrayDim: 1}.TypeName())
	require.Equal(t, "STRUCT(0xFCE)", Tag{DataTypeValue: 0xFCE, IsStruct: true}.TypeName())
}
