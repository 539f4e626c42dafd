package logix

import (
	"encoding/binary"
	"fmt"
	"time"

	"taglink/cip"
)

// GetPLCTime reads the controller's wall clock. With raw set the value
// is the unconverted microseconds-since-epoch count; otherwise it is a
// UTC time.
func (p *PLC) GetPLCTime(raw bool) (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("GetPLCTime: nil handle")
	}

	attr := WallClockTimeAttr
	frame, err := cip.BuildObjectRequest(SvcGetAttributeSingle, ClassWallClock, WallClockInstance, &attr, nil)
	if err != nil {
		return nil, err
	}

	cipResp, status := p.request(frame)
	if status != "" {
		return errResponse("", status), nil
	}
	reply, err := cip.ParseReply(cipResp)
	if err != nil {
		return errResponse("", fmt.Sprintf("Malformed reply: %v", err)), nil
	}
	if reply.GeneralStatus != cip.StatusSuccess {
		return cipStatusResponse("", reply.GeneralStatus, reply.AdditionalStatus), nil
	}
	if len(reply.Data) < 8 {
		return errResponse("", fmt.Sprintf("Malformed reply: wall clock value is %d bytes", len(reply.Data))), nil
	}

	micros := int64(binary.LittleEndian.Uint64(reply.Data[0:8]))
	if raw {
		return okResponse("", Value{Kind: ValueInt, TypeCode: TypeLINT, Int: micros}), nil
	}
	return okResponse("", Value{Kind: ValueTime, TypeCode: TypeDT, Time: time.UnixMicro(micros).UTC()}), nil
}

// SetPLCTime sets the controller's wall clock to the host's current
// time. Daylight-saving handling is the controller's own affair; only
// the microsecond timestamp is written.
func (p *PLC) SetPLCTime() (*Response, error) {
	return p.SetPLCTimeAt(time.Now())
}

// SetPLCTimeAt sets the controller's wall clock to an explicit time.
func (p *PLC) SetPLCTimeAt(t time.Time) (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("SetPLCTimeAt: nil handle")
	}

	data := binary.LittleEndian.AppendUint64(nil, uint64(t.UnixMicro()))
	attr := WallClockTimeAttr
	frame, err := cip.BuildObjectRequest(SvcSetAttributeSingle, ClassWallClock, WallClockInstance, &attr, data)
	if err != nil {
		return nil, err
	}

	cipResp, status := p.request(frame)
	if status != "" {
		return errResponse("", status), nil
	}
	reply, err := cip.ParseReply(cipResp)
	if err != nil {
		return errResponse("", fmt.Sprintf("Malformed reply: %v", err)), nil
	}
	if reply.GeneralStatus != cip.StatusSuccess {
		return cipStatusResponse("", reply.GeneralStatus, reply.AdditionalStatus), nil
	}
	return okResponse("", Value{}), nil
}
