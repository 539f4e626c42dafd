package cip

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMultipleServiceOffsets(t *testing.T) {
	// Two embedded services of 8 and 10 bytes. The offset table is
	// relative to the start of the service count: 2 + 2*2 = 6, then 14.
	svc1 := make([]byte, 8)
	svc2 := make([]byte, 10)
	svc1[0], svc2[0] = 0x4C, 0x4C

	frame, err := BuildMultipleService([][]byte{svc1, svc2})
	require.NoError(t, err)

	// Outer request: service 0x0A through the Message Router.
	require.Equal(t, byte(0x0A), frame[0])
	require.Equal(t, byte(0x02), frame[1])
	require.Equal(t, []byte{0x20, 0x02, 0x24, 0x01}, frame[2:6])

	body := frame[6:]
	require.Equal(t, uint16(2), binary.LittleEndian.Uint16(body[0:2]))
	require.Equal(t, uint16(6), binary.LittleEndian.Uint16(body[2:4]))
	require.Equal(t, uint16(14), binary.LittleEndian.Uint16(body[4:6]))
	require.Equal(t, svc1, body[6:14])
	require.Equal(t, svc2, body[14:24])
}

func TestBuildMultipleServiceErrors(t *testing.T) {
	_, err := BuildMultipleService(nil)
	require.Error(t, err)
}

// Literal fixture pinning the reply offset base: offsets are relative
// to the start of the reply count field, not the reply data start.
func TestParseMultipleServiceReplyFixture(t *testing.T) {
	body := []byte{
		0x02, 0x00, // reply count
		0x06, 0x00, // offset of reply 0, from the count field
		0x10, 0x00, // offset of reply 1
		// reply 0: Read Tag reply, success, DINT 7
		0xCC, 0x00, 0x00, 0x00, 0xC4, 0x00, 0x07, 0x00, 0x00, 0x00,
		// reply 1: Read Tag reply, path destination unknown
		0xCC, 0x00, 0x05, 0x01, 0x04, 0x21,
	}

	replies, err := ParseMultipleServiceReply(body)
	require.NoError(t, err)
	require.Len(t, replies, 2)

	require.NotNil(t, replies[0])
	require.Equal(t, byte(0x00), replies[0].GeneralStatus)
	require.Equal(t, []byte{0xC4, 0x00, 0x07, 0x00, 0x00, 0x00}, replies[0].Data)

	require.NotNil(t, replies[1])
	require.Equal(t, byte(0x05), replies[1].GeneralStatus)
	require.Equal(t, []byte{0x04, 0x21}, replies[1].AdditionalStatus)
}

func TestParseMultipleServiceReplyShortEntry(t *testing.T) {
	body := []byte{
		0x02, 0x00,
		0x06, 0x00,
		0x40, 0x00, // offset beyond the body
		0xCC, 0x00, 0x00, 0x00, 0xC4, 0x00, 0x07, 0x00, 0x00, 0x00,
	}

	replies, err := ParseMultipleServiceReply(body)
	require.NoError(t, err)
	require.Len(t, replies, 2)
	require.NotNil(t, replies[0])
	require.Nil(t, replies[1])
}

func TestParseMultipleServiceReplyTruncated(t *testing.T) {
	_, err := ParseMultipleServiceReply([]byte{0x05})
	require.Error(t, err)

	_, err = ParseMultipleServiceReply([]byte{0x03, 0x00, 0x06, 0x00})
	require.Error(t, err)
}

// Round trip: a built batch parses back into the same per-service
// frames when fed through a synthetic echo reply.
func TestMultipleServiceRoundTrip(t *testing.T) {
	services := [][]byte{
		{0xCC, 0x00, 0x00, 0x00, 0xC4, 0x00, 0x01, 0x00, 0x00, 0x00},
		{0xCC, 0x00, 0x00, 0x00, 0xC4, 0x00, 0x02, 0x00, 0x00, 0x00},
		{0xCD, 0x00, 0x00, 0x00},
	}

	body := binary.LittleEndian.AppendUint16(nil, uint16(len(services)))
	offset := 2 + 2*len(services)
	for _, svc := range services {
		body = binary.LittleEndian.AppendUint16(body, uint16(offset))
		offset += len(svc)
	}
	for _, svc := range services {
		body = append(body, svc...)
	}

	replies, err := ParseMultipleServiceReply(body)
	require.NoError(t, err)
	require.Len(t, replies, 3)
	require.Equal(t, []byte{0xC4, 0x00, 0x01, 0x00, 0x00, 0x00}, replies[0].Data)
	require.Equal(t, []byte{0xC4, 0x00, 0x02, 0x00, 0x00, 0x00}, replies[1].Data)
	require.Equal(t, byte(0xCD), replies[2].Service)
	require.Empty(t, replies[2].Data)
}
