package logix

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"taglink/cip"
	"taglink/eip"
	"taglink/logging"
)

// Connection sizes tried during auto-negotiation: LargeForwardOpen
// first, then the standard ForwardOpen fallback.
const (
	ConnectionSizeLarge    uint16 = 4002
	ConnectionSizeStandard uint16 = 504
)

// RouteHop is one hop of an explicit CIP route. When Link is set the
// hop uses the extended link-address encoding (an IP address or named
// link); otherwise Slot is the link address.
type RouteHop struct {
	Port byte
	Slot byte
	Link string
}

// PLC is a handle to one Logix-family controller. A handle owns one
// socket and one session; it is not safe for concurrent use without
// external serialization. The zero-value configuration fields are
// filled with defaults by NewPLC.
type PLC struct {
	IPAddress      string
	Port           uint16
	ProcessorSlot  byte
	Timeout        time.Duration
	Micro800       bool
	Route          []RouteHop
	ConnectionSize uint16 // 0 = auto-negotiate
	StringEncoding string

	client      *eip.Client
	conn        *cip.Connection
	connPath    cip.EPath
	foAttempted bool
	rng         *rand.Rand
	typeCache   *xsync.MapOf[string, byte]
}

// NewPLC creates an idle handle with the default port, slot 0, and a
// five second socket timeout. No socket is opened until the first
// operation.
func NewPLC(ip string) *PLC {
	return &PLC{
		IPAddress:      ip,
		Port:           eip.DefaultPort,
		Timeout:        5 * time.Second,
		StringEncoding: "utf-8",
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		typeCache:      xsync.NewMapOf[string, byte](),
	}
}

// Connected reports whether a CIP connection (ForwardOpen) is active.
func (p *PLC) Connected() bool {
	return p != nil && p.conn != nil
}

// Registered reports whether an EIP session is held.
func (p *PLC) Registered() bool {
	return p != nil && p.client.IsConnected()
}

// NegotiatedSize returns the connection size granted by ForwardOpen, or
// 0 when operating unconnected.
func (p *PLC) NegotiatedSize() uint16 {
	if p == nil || p.conn == nil {
		return 0
	}
	return p.conn.Size
}

// ensureSession lazily opens the socket and registers a session.
func (p *PLC) ensureSession() error {
	if p.client != nil && p.client.IsConnected() {
		return nil
	}
	if p.IPAddress == "" {
		return fmt.Errorf("ensureSession: no IP address configured")
	}
	if p.client == nil {
		p.client = eip.NewClientWithPort(p.IPAddress, p.Port)
	}
	p.client.SetTimeout(p.Timeout)
	p.conn = nil
	p.connPath = nil
	p.foAttempted = false
	if err := p.client.Connect(); err != nil {
		return err
	}
	return nil
}

// routePath returns the encoded route hops for unconnected sends and
// connection paths: the explicit route when configured, the default
// backplane hop otherwise, nil for Micro800 targets.
func (p *PLC) routePath() (cip.EPath, error) {
	if p.Micro800 {
		return nil, nil
	}
	if len(p.Route) == 0 {
		return cip.PortSegment(0x01, p.ProcessorSlot), nil
	}
	var out cip.EPath
	for _, hop := range p.Route {
		if hop.Link != "" {
			seg, err := cip.PortSegmentLink(hop.Port, hop.Link)
			if err != nil {
				return nil, fmt.Errorf("routePath: %w", err)
			}
			out = append(out, seg...)
		} else {
			out = append(out, cip.PortSegment(hop.Port, hop.Slot)...)
		}
	}
	return out, nil
}

// connectionPath builds the ForwardOpen connection path: route hops
// followed by the Message Router terminator.
func (p *PLC) connectionPath() (cip.EPath, error) {
	route, err := p.routePath()
	if err != nil {
		return nil, err
	}
	return append(append(cip.EPath{}, route...), cip.MessageRouterPath()...), nil
}

// ensureConnection attempts ForwardOpen once per session. A caller-set
// ConnectionSize is tried alone; otherwise large then standard sizes
// are negotiated. Failure is tolerated: the session stays registered
// and requests fall back to unconnected messaging.
func (p *PLC) ensureConnection() {
	if p.conn != nil || p.foAttempted {
		return
	}
	p.foAttempted = true

	sizes := []uint16{ConnectionSizeLarge, ConnectionSizeStandard}
	if p.ConnectionSize != 0 {
		sizes = []uint16{p.ConnectionSize}
	}

	for _, size := range sizes {
		if err := p.tryForwardOpen(size); err == nil {
			logging.Debugf("logix", "ForwardOpen granted at %d bytes", size)
			return
		} else {
			logging.Debugf("logix", "ForwardOpen size %d: %v", size, err)
		}
	}
}

func (p *PLC) tryForwardOpen(size uint16) error {
	connPath, err := p.connectionPath()
	if err != nil {
		return err
	}

	frame, pending, err := cip.BuildForwardOpen(cip.ForwardOpenRequest{
		Size:           size,
		ConnectionPath: connPath,
		Rand:           p.rng,
	})
	if err != nil {
		return err
	}

	resp, err := p.client.SendRRData(eip.UnconnectedPacket(frame))
	if err != nil {
		return fmt.Errorf("tryForwardOpen: %w", err)
	}
	item, ok := resp.DataItem(eip.CpfUnconnectedDataId)
	if !ok {
		return fmt.Errorf("tryForwardOpen: reply missing data item")
	}

	reply, err := cip.ParseReply(item)
	if err != nil {
		return fmt.Errorf("tryForwardOpen: %w", err)
	}
	if reply.GeneralStatus != cip.StatusSuccess {
		return fmt.Errorf("tryForwardOpen: %s", reply.StatusText())
	}

	otConnID, _, err := cip.ParseForwardOpenReply(reply.Data)
	if err != nil {
		return fmt.Errorf("tryForwardOpen: %w", err)
	}

	pending.OTConnID = otConnID
	p.conn = pending
	p.connPath = connPath
	return nil
}

// Close tears down in reverse order: ForwardClose if connected, then
// UnregisterSession, then the socket. Every step is best-effort; Close
// is idempotent and safe on a handle that never opened a socket.
func (p *PLC) Close() {
	if p == nil {
		return
	}
	if p.conn != nil && p.client.IsConnected() {
		if frame, err := cip.BuildForwardClose(p.conn, p.connPath); err == nil {
			_, _ = p.client.SendRRData(eip.UnconnectedPacket(frame))
		}
	}
	p.conn = nil
	p.connPath = nil
	p.foAttempted = false
	if p.client != nil {
		_ = p.client.Disconnect()
	}
}

// dropSession invalidates all session state after a transport failure.
func (p *PLC) dropSession() {
	p.conn = nil
	p.connPath = nil
	p.foAttempted = false
	if p.client != nil {
		_ = p.client.Disconnect()
	}
}

// Nop writes the encapsulation NOP command to validate the socket
// without changing any state.
func (p *PLC) Nop() error {
	if err := p.ensureSession(); err != nil {
		return fmt.Errorf("Nop: %w", err)
	}
	return p.client.SendNop()
}

// request performs one CIP request/reply round trip, establishing the
// session and connection as needed. It returns the raw CIP reply or a
// Response status string describing the failure.
func (p *PLC) request(frame []byte) ([]byte, string) {
	if err := p.ensureSession(); err != nil {
		logging.Errorf("logix", "session", err)
		return nil, StatusConnectionFailure
	}
	p.ensureConnection()

	if p.conn != nil {
		cpf := eip.ConnectedPacket(p.conn.OTConnID, p.conn.WrapConnected(frame))
		resp, err := p.client.SendUnitData(cpf)
		if err != nil {
			logging.Errorf("logix", "SendUnitData", err)
			p.dropSession()
			return nil, StatusConnectionLost
		}
		item, ok := resp.DataItem(eip.CpfConnectedDataId)
		if !ok {
			return nil, "Malformed reply: missing connected data item"
		}
		_, cipResp, err := p.conn.UnwrapConnected(item)
		if err != nil {
			return nil, fmt.Sprintf("Malformed reply: %v", err)
		}
		return cipResp, ""
	}

	route, err := p.routePath()
	if err != nil {
		return nil, fmt.Sprintf("Malformed route: %v", err)
	}
	req := frame
	if route != nil {
		req = cip.BuildUnconnectedSend(frame, route)
	}

	resp, err := p.client.SendRRData(eip.UnconnectedPacket(req))
	if err != nil {
		logging.Errorf("logix", "SendRRData", err)
		p.dropSession()
		return nil, StatusConnectionLost
	}
	item, ok := resp.DataItem(eip.CpfUnconnectedDataId)
	if !ok {
		return nil, "Malformed reply: missing unconnected data item"
	}
	cipResp := item
	if route != nil {
		cipResp, err = cip.UnwrapUnconnectedSendReply(item)
		if err != nil {
			return nil, fmt.Sprintf("Malformed reply: %v", err)
		}
	}
	return cipResp, ""
}

// cacheKey is the tag path without indices and bit access; the declared
// type belongs to the symbol, not the element.
func cacheKey(t ParsedTag) string {
	stripped := ParsedTag{BaseTag: t.BaseTag, Program: t.Program, BitIndex: -1}
	for _, m := range t.Members {
		stripped.Members = append(stripped.Members, Member{Name: m.Name})
	}
	return stripped.Name()
}

// declaredType resolves the data type to compile against: the caller's
// explicit type, or what earlier replies taught us about this symbol.
func (p *PLC) declaredType(t ParsedTag, explicit byte) byte {
	if explicit != 0 {
		return explicit
	}
	if code, ok := p.typeCache.Load(cacheKey(t)); ok {
		return code
	}
	return 0
}

// buildReadFrame builds a Read Tag request for a compiled IOI.
func buildReadFrame(ioi cip.EPath, count uint16) []byte {
	frame := make([]byte, 0, 2+len(ioi)+2)
	frame = append(frame, SvcReadTag)
	frame = append(frame, ioi.WordLen())
	frame = append(frame, ioi...)
	return binary.LittleEndian.AppendUint16(frame, count)
}

// Read reads a single element of a tag.
func (p *PLC) Read(tag string) (*Response, error) {
	return p.ReadTyped(tag, 1, 0)
}

// ReadCount reads count successive elements starting at the addressed
// element.
func (p *PLC) ReadCount(tag string, count uint16) (*Response, error) {
	return p.ReadTyped(tag, count, 0)
}

// ReadTyped reads with an explicit CIP data type, bypassing the type
// cache. datatype 0 means unknown.
func (p *PLC) ReadTyped(tag string, count uint16, datatype byte) (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("ReadTyped: nil handle")
	}
	parsed, err := ParseTag(tag)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		count = 1
	}
	return p.readParsed(parsed, count, datatype), nil
}

func (p *PLC) readParsed(parsed ParsedTag, count uint16, datatype byte) *Response {
	name := parsed.Name()
	declared := p.declaredType(parsed, datatype)

	ioi, err := CompileIOI(parsed, declared)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed tag: %v", err))
	}

	cipResp, status := p.request(buildReadFrame(ioi, count))
	if status != "" {
		return errResponse(name, status)
	}

	reply, err := cip.ParseReply(cipResp)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed reply: %v", err))
	}
	if reply.GeneralStatus != cip.StatusSuccess && reply.GeneralStatus != cip.StatusPartialTransfer {
		return cipStatusResponse(name, reply.GeneralStatus, reply.AdditionalStatus)
	}

	code, structHandle, body, err := splitTypedPayload(reply.Data)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed reply: %v", err))
	}
	p.typeCache.Store(cacheKey(parsed), code)

	// Partial transfer: continue with the fragmented read service until
	// the value is complete.
	if reply.GeneralStatus == cip.StatusPartialTransfer {
		body, status = p.readRemainingFragments(ioi, count, body)
		if status != "" {
			return errResponse(name, status)
		}
	}

	value, err := DecodeValue(code, structHandle, body, int(count), p.StringEncoding)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed reply: %v", err))
	}

	value = applyBitAccess(parsed, declared, value)
	return okResponse(name, value)
}

// splitTypedPayload splits a read reply body into type code, structure
// handle (STRUCT reads only), and value bytes.
func splitTypedPayload(data []byte) (code byte, structHandle uint16, body []byte, err error) {
	if len(data) < 2 {
		return 0, 0, nil, fmt.Errorf("typed payload too short: %d bytes", len(data))
	}
	code = data[0]
	body = data[2:]
	if code == TypeSTRUCT {
		if len(body) < 2 {
			return 0, 0, nil, fmt.Errorf("structure handle missing")
		}
		structHandle = binary.LittleEndian.Uint16(body[0:2])
		body = body[2:]
	}
	return code, structHandle, body, nil
}

// readRemainingFragments continues a partial read with the Read Tag
// Fragmented service, appending value bytes until the device reports
// completion.
func (p *PLC) readRemainingFragments(ioi cip.EPath, count uint16, acc []byte) ([]byte, string) {
	for {
		frame := make([]byte, 0, 2+len(ioi)+6)
		frame = append(frame, SvcReadTagFragmented)
		frame = append(frame, ioi.WordLen())
		frame = append(frame, ioi...)
		frame = binary.LittleEndian.AppendUint16(frame, count)
		frame = binary.LittleEndian.AppendUint32(frame, uint32(len(acc)))

		cipResp, status := p.request(frame)
		if status != "" {
			return nil, status
		}
		reply, err := cip.ParseReply(cipResp)
		if err != nil {
			return nil, fmt.Sprintf("Malformed reply: %v", err)
		}
		if reply.GeneralStatus != cip.StatusSuccess && reply.GeneralStatus != cip.StatusPartialTransfer {
			return nil, cip.StatusText(reply.GeneralStatus, reply.AdditionalStatus)
		}

		_, _, body, err := splitTypedPayload(reply.Data)
		if err != nil {
			return nil, fmt.Sprintf("Malformed reply: %v", err)
		}
		if len(body) == 0 {
			return nil, "Malformed reply: empty fragment"
		}
		acc = append(acc, body...)

		if reply.GeneralStatus == cip.StatusSuccess {
			return acc, ""
		}
	}
}

// applyBitAccess reduces an integer value to the addressed bit for
// bit-of-word reads and DWORD-backed BOOL array reads.
func applyBitAccess(parsed ParsedTag, declared byte, v Value) Value {
	bit := -1
	if parsed.BitIndex >= 0 {
		bit = parsed.BitIndex
	} else if declared == TypeDWORD && len(parsed.Indices) > 0 && v.Kind == ValueUint {
		bit = int(BitWithinDWORD(parsed.Indices[0]))
	}
	if bit < 0 {
		return v
	}
	switch v.Kind {
	case ValueInt:
		return Value{Kind: ValueBool, TypeCode: TypeBOOL, Bool: v.Int>>uint(bit)&1 != 0}
	case ValueUint:
		return Value{Kind: ValueBool, TypeCode: TypeBOOL, Bool: v.Uint>>uint(bit)&1 != 0}
	default:
		return v
	}
}

// Write writes a scalar or array value, guessing the CIP type from the
// host type.
func (p *PLC) Write(tag string, value any) (*Response, error) {
	return p.WriteTyped(tag, value, 0)
}

// WriteTyped writes with an explicit CIP data type. datatype 0 guesses
// from the cached symbol type, then from the host value.
func (p *PLC) WriteTyped(tag string, value any, datatype byte) (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("WriteTyped: nil handle")
	}
	parsed, err := ParseTag(tag)
	if err != nil {
		return nil, err
	}
	return p.writeParsed(parsed, value, datatype), nil
}

func (p *PLC) writeParsed(parsed ParsedTag, value any, datatype byte) *Response {
	name := parsed.Name()

	declared := p.declaredType(parsed, datatype)
	code := declared
	if code == 0 {
		code = GuessType(value)
	}

	// Bit-of-word and BOOL-array-element writes modify a single bit of
	// the backing word with Read-Modify-Write masks.
	if parsed.BitIndex >= 0 || (code == TypeDWORD && len(parsed.Indices) > 0) {
		return p.writeBit(parsed, code, value)
	}

	ioi, err := CompileIOI(parsed, declared)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed tag: %v", err))
	}

	data, count, err := EncodeValue(code, value, p.StringEncoding)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed value: %v", err))
	}

	frame := make([]byte, 0, 2+len(ioi)+4+len(data))
	frame = append(frame, SvcWriteTag)
	frame = append(frame, ioi.WordLen())
	frame = append(frame, ioi...)
	frame = append(frame, code, 0x00)
	frame = binary.LittleEndian.AppendUint16(frame, count)
	frame = append(frame, data...)

	return p.finishWrite(name, frame, SvcWriteTag)
}

// writeBit sets or clears one bit with the Read-Modify-Write service.
func (p *PLC) writeBit(parsed ParsedTag, code byte, value any) *Response {
	name := parsed.Name()

	on, ok := toInt64(value)
	if !ok {
		return errResponse(name, fmt.Sprintf("Malformed value: cannot write %T to a bit", value))
	}

	size := TypeSize(code)
	if size == 0 {
		code = TypeDINT
		size = 4
	}

	var bit int
	if parsed.BitIndex >= 0 {
		bit = parsed.BitIndex
	} else {
		bit = int(BitWithinDWORD(parsed.Indices[0]))
	}
	if bit >= size*8 {
		return errResponse(name, fmt.Sprintf("Malformed tag: bit %d exceeds %s width", bit, TypeName(code)))
	}

	ioi, err := CompileIOI(parsed, code)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed tag: %v", err))
	}

	orMask := make([]byte, size)
	andMask := make([]byte, size)
	for i := range andMask {
		andMask[i] = 0xFF
	}
	if on != 0 {
		orMask[bit/8] = 1 << (bit % 8)
	} else {
		andMask[bit/8] &^= 1 << (bit % 8)
	}

	frame := make([]byte, 0, 2+len(ioi)+2+2*size)
	frame = append(frame, SvcReadModifyWriteTag)
	frame = append(frame, ioi.WordLen())
	frame = append(frame, ioi...)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(size))
	frame = append(frame, orMask...)
	frame = append(frame, andMask...)

	return p.finishWrite(name, frame, SvcReadModifyWriteTag)
}

// finishWrite sends a write-style frame and folds the reply status into
// a Response.
func (p *PLC) finishWrite(name string, frame []byte, service byte) *Response {
	cipResp, status := p.request(frame)
	if status != "" {
		return errResponse(name, status)
	}
	reply, err := cip.ParseReply(cipResp)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed reply: %v", err))
	}
	if reply.Service != (service | 0x80) {
		return errResponse(name, fmt.Sprintf("Malformed reply: unexpected reply service 0x%02X", reply.Service))
	}
	if reply.GeneralStatus != cip.StatusSuccess {
		return cipStatusResponse(name, reply.GeneralStatus, reply.AdditionalStatus)
	}
	return okResponse(name, Value{})
}

// Message sends an arbitrary CIP service addressed by class, instance,
// and optional attribute, returning the raw reply bytes.
func (p *PLC) Message(service byte, class uint16, instance uint32, attribute *byte, data []byte) (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("Message: nil handle")
	}
	name := fmt.Sprintf("svc=0x%02X class=0x%02X instance=%d", service, class, instance)

	frame, err := cip.BuildObjectRequest(service, class, instance, attribute, data)
	if err != nil {
		return nil, err
	}

	cipResp, status := p.request(frame)
	if status != "" {
		return errResponse(name, status), nil
	}
	reply, err := cip.ParseReply(cipResp)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed reply: %v", err)), nil
	}
	resp := &Response{
		TagName: name,
		Value:   Value{Kind: ValueBytes, Bytes: reply.Data},
		Status:  reply.StatusText(),
	}
	return resp, nil
}
