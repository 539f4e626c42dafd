package logix

import (
	"encoding/binary"
	"fmt"

	"taglink/cip"
)

// ReadRequest is one entry of a batch read. Count 0 means 1; DataType 0
// means unknown.
type ReadRequest struct {
	Tag      string
	Count    uint16
	DataType byte
}

// WriteRequest is one entry of a batch write. DataType 0 guesses from
// the cached symbol type, then from the host value.
type WriteRequest struct {
	Tag      string
	Value    any
	DataType byte
}

// ReadList reads several tags in one Multiple Service Packet round
// trip. Results preserve request order; each entry carries its own
// status. A top-level failure is propagated to every entry.
func (p *PLC) ReadList(reqs []ReadRequest) ([]*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("ReadList: nil handle")
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	names := make([]string, len(reqs))
	counts := make([]uint16, len(reqs))
	parsedTags := make([]ParsedTag, len(reqs))
	embedded := make([][]byte, len(reqs))

	for i, req := range reqs {
		parsed, err := ParseTag(req.Tag)
		if err != nil {
			return nil, fmt.Errorf("ReadList: tag %q: %w", req.Tag, err)
		}
		count := req.Count
		if count == 0 {
			count = 1
		}
		declared := p.declaredType(parsed, req.DataType)
		ioi, err := CompileIOI(parsed, declared)
		if err != nil {
			return nil, fmt.Errorf("ReadList: tag %q: %w", req.Tag, err)
		}
		names[i] = parsed.Name()
		counts[i] = count
		parsedTags[i] = parsed
		embedded[i] = buildReadFrame(ioi, count)
	}

	replies, status := p.requestBatch(embedded)
	if status != "" {
		return failAll(names, status), nil
	}

	out := make([]*Response, len(reqs))
	for i := range reqs {
		if i >= len(replies) || replies[i] == nil {
			out[i] = errResponse(names[i], StatusNoResponse)
			continue
		}
		sub := replies[i]
		if sub.GeneralStatus != cip.StatusSuccess && sub.GeneralStatus != cip.StatusPartialTransfer {
			out[i] = cipStatusResponse(names[i], sub.GeneralStatus, sub.AdditionalStatus)
			continue
		}
		code, structHandle, body, err := splitTypedPayload(sub.Data)
		if err != nil {
			out[i] = errResponse(names[i], fmt.Sprintf("Malformed reply: %v", err))
			continue
		}
		declared := p.declaredType(parsedTags[i], reqs[i].DataType)
		p.typeCache.Store(cacheKey(parsedTags[i]), code)
		value, err := DecodeValue(code, structHandle, body, int(counts[i]), p.StringEncoding)
		if err != nil {
			out[i] = errResponse(names[i], fmt.Sprintf("Malformed reply: %v", err))
			continue
		}
		out[i] = okResponse(names[i], applyBitAccess(parsedTags[i], declared, value))
	}
	return out, nil
}

// WriteList writes several tags in one Multiple Service Packet round
// trip. Bit-level writes are not batchable and are rejected here; use
// Write for those.
func (p *PLC) WriteList(reqs []WriteRequest) ([]*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("WriteList: nil handle")
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	names := make([]string, len(reqs))
	embedded := make([][]byte, len(reqs))

	for i, req := range reqs {
		parsed, err := ParseTag(req.Tag)
		if err != nil {
			return nil, fmt.Errorf("WriteList: tag %q: %w", req.Tag, err)
		}
		if parsed.BitIndex >= 0 {
			return nil, fmt.Errorf("WriteList: tag %q: bit writes cannot be batched", req.Tag)
		}
		names[i] = parsed.Name()

		declared := p.declaredType(parsed, req.DataType)
		code := declared
		if code == 0 {
			code = GuessType(req.Value)
		}
		if code == TypeDWORD && len(parsed.Indices) > 0 {
			return nil, fmt.Errorf("WriteList: tag %q: bit writes cannot be batched", req.Tag)
		}
		ioi, err := CompileIOI(parsed, declared)
		if err != nil {
			return nil, fmt.Errorf("WriteList: tag %q: %w", req.Tag, err)
		}
		data, count, err := EncodeValue(code, req.Value, p.StringEncoding)
		if err != nil {
			return nil, fmt.Errorf("WriteList: tag %q: %w", req.Tag, err)
		}

		frame := make([]byte, 0, 2+len(ioi)+4+len(data))
		frame = append(frame, SvcWriteTag)
		frame = append(frame, ioi.WordLen())
		frame = append(frame, ioi...)
		frame = append(frame, code, 0x00)
		frame = binary.LittleEndian.AppendUint16(frame, count)
		frame = append(frame, data...)
		embedded[i] = frame
	}

	replies, status := p.requestBatch(embedded)
	if status != "" {
		return failAll(names, status), nil
	}

	out := make([]*Response, len(reqs))
	for i := range reqs {
		if i >= len(replies) || replies[i] == nil {
			out[i] = errResponse(names[i], StatusNoResponse)
			continue
		}
		sub := replies[i]
		if sub.GeneralStatus != cip.StatusSuccess {
			out[i] = cipStatusResponse(names[i], sub.GeneralStatus, sub.AdditionalStatus)
			continue
		}
		out[i] = okResponse(names[i], Value{})
	}
	return out, nil
}

// requestBatch sends embedded services in one Multiple Service Packet
// and returns the per-service replies, or a status string describing a
// transport or batch-wide failure.
func (p *PLC) requestBatch(embedded [][]byte) ([]*cip.Reply, string) {
	frame, err := cip.BuildMultipleService(embedded)
	if err != nil {
		return nil, fmt.Sprintf("Malformed request: %v", err)
	}

	cipResp, status := p.request(frame)
	if status != "" {
		return nil, status
	}

	outer, err := cip.ParseReply(cipResp)
	if err != nil {
		return nil, fmt.Sprintf("Malformed reply: %v", err)
	}

	// Embedded-service error still carries per-service replies; any
	// other nonzero status is batch-wide.
	switch outer.GeneralStatus {
	case cip.StatusSuccess, cip.StatusEmbeddedService:
	default:
		return nil, cip.StatusText(outer.GeneralStatus, outer.AdditionalStatus)
	}

	replies, err := cip.ParseMultipleServiceReply(outer.Data)
	if err != nil {
		return nil, fmt.Sprintf("Malformed reply: %v", err)
	}
	return replies, ""
}

func failAll(names []string, status string) []*Response {
	out := make([]*Response, len(names))
	for i, name := range names {
		out[i] = errResponse(name, status)
	}
	return out
}
