package cip

import (
	"encoding/binary"
	"fmt"
)

// Multiple Service Packet (0x0A) bundles several embedded requests into
// one round trip through the Message Router.
const SvcMultipleService byte = 0x0A

// ClassMessageRouter is the target class of a Multiple Service Packet.
const ClassMessageRouter byte = 0x02

// maxBatchedServices bounds one packet; Logix rejects far smaller
// batches long before this, the cap just keeps offsets in range.
const maxBatchedServices = 500

// BuildMultipleService builds a complete Multiple Service Packet frame:
// service, Message Router path, service count, offset table, embedded
// services. Offsets are relative to the start of the service count.
func BuildMultipleService(embedded [][]byte) ([]byte, error) {
	if len(embedded) == 0 {
		return nil, fmt.Errorf("BuildMultipleService: no embedded services")
	}
	if len(embedded) > maxBatchedServices {
		return nil, fmt.Errorf("BuildMultipleService: too many services: %d", len(embedded))
	}

	// count + offset table precede the first service body.
	offset := 2 + 2*len(embedded)
	total := offset
	for _, svc := range embedded {
		total += len(svc)
	}
	if total > 0xFFFF {
		return nil, fmt.Errorf("BuildMultipleService: packet too large: %d bytes", total)
	}

	body := make([]byte, 0, total)
	body = binary.LittleEndian.AppendUint16(body, uint16(len(embedded)))
	for _, svc := range embedded {
		body = binary.LittleEndian.AppendUint16(body, uint16(offset))
		offset += len(svc)
	}
	for _, svc := range embedded {
		body = append(body, svc...)
	}

	return Request{
		Service: SvcMultipleService,
		Path:    MessageRouterPath(),
		Data:    body,
	}.Marshal(), nil
}

// ParseMultipleServiceReply splits the body of a Multiple Service Packet
// reply into per-service replies. The input is the reply body after the
// outer service header; offsets inside it are relative to the start of
// the reply count field. Entries the device did not answer are nil.
func ParseMultipleServiceReply(body []byte) ([]*Reply, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("ParseMultipleServiceReply: body too short: %d bytes", len(body))
	}

	count := int(binary.LittleEndian.Uint16(body[0:2]))
	if count == 0 {
		return nil, nil
	}
	if len(body) < 2+2*count {
		return nil, fmt.Errorf("ParseMultipleServiceReply: offset table truncated for %d replies", count)
	}

	offsets := make([]int, count)
	for i := 0; i < count; i++ {
		offsets[i] = int(binary.LittleEndian.Uint16(body[2+2*i : 4+2*i]))
	}

	replies := make([]*Reply, count)
	for i := 0; i < count; i++ {
		start := offsets[i]
		end := len(body)
		if i+1 < count {
			end = offsets[i+1]
		}
		if end > len(body) {
			end = len(body)
		}
		if start < 0 || start >= len(body) || start >= end {
			continue
		}
		reply, err := ParseReply(body[start:end])
		if err != nil {
			continue
		}
		replies[i] = reply
	}

	return replies, nil
}
