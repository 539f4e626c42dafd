package eip

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"taglink/logging"
)

// DefaultPort is the registered EtherNet/IP TCP and UDP port.
const DefaultPort uint16 = 44818

// Client owns one TCP socket and one registered session to a target.
// A Client is safe for serialized use; concurrent callers are serialized
// on an internal mutex so a request and its reply stay paired.
type Client struct {
	ipAddr  string
	port    uint16
	conn    net.Conn
	session uint32
	timeout time.Duration
	mu      sync.Mutex
}

// NewClient creates an idle client for the default port. No socket is
// opened until Connect.
func NewClient(ipaddr string) *Client {
	return NewClientWithPort(ipaddr, DefaultPort)
}

// NewClientWithPort creates an idle client for a custom port.
func NewClientWithPort(ipaddr string, port uint16) *Client {
	return &Client{
		ipAddr:  ipaddr,
		port:    port,
		timeout: 5 * time.Second,
	}
}

func (e *Client) Addr() string {
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ipAddr
}

func (e *Client) Timeout() time.Duration {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout
}

// SetTimeout sets the uniform send/receive/dial timeout.
func (e *Client) SetTimeout(dur time.Duration) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.timeout = dur
	e.mu.Unlock()
}

func (e *Client) Session() uint32 {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// IsConnected reports whether the socket is open and a session is held.
func (e *Client) IsConnected() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil && e.session != 0
}

// Connect opens the TCP stream and registers a session. A previously
// open socket is replaced.
func (e *Client) Connect() error {
	if e == nil {
		return fmt.Errorf("Connect: nil client")
	}

	e.mu.Lock()
	connString := net.JoinHostPort(e.ipAddr, strconv.Itoa(int(e.port)))
	timeout := e.timeout
	e.mu.Unlock()

	logging.Debugf("eip", "connecting to %s", connString)

	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", connString)
	if err != nil {
		logging.Errorf("eip", "dial "+connString, err)
		return fmt.Errorf("Connect: %w", err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	e.mu.Lock()
	oldConn := e.conn
	e.conn = conn
	e.session = 0

	session, err := e.registerSession()
	if err != nil {
		e.conn = nil
		e.session = 0
		e.mu.Unlock()
		_ = conn.Close()
		if oldConn != nil {
			_ = oldConn.Close()
		}
		logging.Errorf("eip", "RegisterSession", err)
		return fmt.Errorf("Connect: failed to register session: %w", err)
	}
	e.session = session
	e.mu.Unlock()

	logging.Debugf("eip", "session registered with %s: 0x%08X", connString, session)

	if oldConn != nil {
		_ = oldConn.Close()
	}
	return nil
}

// Disconnect unregisters the session (best-effort) and closes the socket.
// Safe to call repeatedly and on a client that never connected.
func (e *Client) Disconnect() error {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		e.session = 0
		return nil
	}

	logging.Debugf("eip", "disconnecting from %s", e.ipAddr)

	if e.session != 0 {
		msg := Encap{
			Command:       CmdUnRegisterSession,
			SessionHandle: e.session,
		}
		_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
		_ = e.sendEncap(&msg)
	}

	err := e.conn.Close()
	e.conn = nil
	e.session = 0
	return err
}

// drop closes the socket and forgets the session after a transport
// failure. Caller must hold the mutex.
func (e *Client) drop() {
	if e.conn != nil {
		_ = e.conn.Close()
	}
	e.conn = nil
	e.session = 0
}

// registerSession sends RegisterSession (protocol version 1, options 0)
// and returns the handle from the reply. Caller must hold the mutex.
func (e *Client) registerSession() (uint32, error) {
	if e.conn == nil {
		return 0, fmt.Errorf("registerSession: not connected")
	}

	msg := Encap{
		Command: CmdRegisterSession,
		Data:    []byte{0x01, 0x00, 0x00, 0x00},
	}

	resp, err := e.transactEncap(&msg)
	if err != nil {
		return 0, fmt.Errorf("registerSession: %w", err)
	}
	if resp.Status != 0 {
		return 0, fmt.Errorf("registerSession: encapsulation status 0x%08X", resp.Status)
	}
	if resp.SessionHandle == 0 {
		return 0, fmt.Errorf("registerSession: got session handle 0")
	}
	return resp.SessionHandle, nil
}

// transactEncap writes one frame and reads one reply under the deadline.
// Caller must hold the mutex.
func (e *Client) transactEncap(msg *Encap) (*Encap, error) {
	if e.conn == nil {
		return nil, fmt.Errorf("transactEncap: not connected")
	}

	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	if err := e.sendEncap(msg); err != nil {
		e.drop()
		return nil, fmt.Errorf("transactEncap: send: %w", err)
	}

	_ = e.conn.SetReadDeadline(time.Now().Add(e.timeout))
	resp, err := e.recvEncap()
	if err != nil {
		e.drop()
		return nil, fmt.Errorf("transactEncap: recv: %w", err)
	}
	return resp, nil
}

func (e *Client) sendEncap(msg *Encap) error {
	data := msg.Bytes()
	logging.TX("eip", data)
	_, err := e.conn.Write(data)
	return err
}

// recvEncap reads one length-framed encapsulation reply, concatenating
// partial reads until 24+length bytes are buffered. A peer that closes
// before any header byte surfaces as io.EOF, one that closes mid-frame
// as io.ErrUnexpectedEOF.
func (e *Client) recvEncap() (*Encap, error) {
	header := make([]byte, EncapHeaderSize)
	if _, err := io.ReadFull(e.conn, header); err != nil {
		return nil, fmt.Errorf("recvEncap: read header: %w", err)
	}

	payloadLen := binary.LittleEndian.Uint16(header[2:4])
	sessionHandle := binary.LittleEndian.Uint32(header[4:8])

	if payloadLen > 65511 {
		return nil, fmt.Errorf("recvEncap: excessive payload length %d", payloadLen)
	}
	// Session 0 in a reply is valid (ListIdentity and friends); otherwise
	// it must match ours.
	if sessionHandle != 0 && e.session != 0 && sessionHandle != e.session {
		return nil, fmt.Errorf("recvEncap: session mismatch: need 0x%08X, got 0x%08X", e.session, sessionHandle)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(e.conn, payload); err != nil {
		return nil, fmt.Errorf("recvEncap: read payload: %w", err)
	}

	logging.RX("eip", append(header[:len(header):len(header)], payload...))

	var ctx [8]byte
	copy(ctx[:], header[12:20])
	return &Encap{
		Command:       binary.LittleEndian.Uint16(header[:2]),
		Length:        payloadLen,
		SessionHandle: sessionHandle,
		Status:        binary.LittleEndian.Uint32(header[8:12]),
		Context:       ctx,
		Options:       binary.LittleEndian.Uint32(header[20:24]),
		Data:          payload,
	}, nil
}

// SendRRData performs one unconnected request/reply transaction and
// returns the parsed reply CPF.
func (e *Client) SendRRData(packet *CommonPacket) (*CommonPacket, error) {
	if e == nil {
		return nil, fmt.Errorf("SendRRData: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, fmt.Errorf("SendRRData: not connected")
	}
	if e.session == 0 {
		return nil, fmt.Errorf("SendRRData: no registered session")
	}

	cmd := CommandData{Packet: packet.Bytes()}
	req := Encap{
		Command:       CmdSendRRData,
		SessionHandle: e.session,
		Data:          cmd.Bytes(),
	}

	resp, err := e.transactEncap(&req)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: %w", err)
	}
	if resp.Status != 0 {
		return nil, fmt.Errorf("SendRRData: encapsulation status 0x%08X", resp.Status)
	}

	cdata, err := ParseCommandData(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: %w", err)
	}
	cpacket, err := ParseCommonPacket(cdata.Packet)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: %w", err)
	}
	return cpacket, nil
}

// SendUnitData performs one connected request/reply transaction and
// returns the parsed reply CPF. The packet's connected data item must
// already carry the sequence count.
func (e *Client) SendUnitData(packet *CommonPacket) (*CommonPacket, error) {
	if e == nil {
		return nil, fmt.Errorf("SendUnitData: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, fmt.Errorf("SendUnitData: not connected")
	}
	if e.session == 0 {
		return nil, fmt.Errorf("SendUnitData: no registered session")
	}

	cmd := CommandData{Packet: packet.Bytes()}
	req := Encap{
		Command:       CmdSendUnitData,
		SessionHandle: e.session,
		Data:          cmd.Bytes(),
	}

	resp, err := e.transactEncap(&req)
	if err != nil {
		return nil, fmt.Errorf("SendUnitData: %w", err)
	}
	if resp.Status != 0 {
		return nil, fmt.Errorf("SendUnitData: encapsulation status 0x%08X", resp.Status)
	}

	cdata, err := ParseCommandData(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("SendUnitData: %w", err)
	}
	cpacket, err := ParseCommonPacket(cdata.Packet)
	if err != nil {
		return nil, fmt.Errorf("SendUnitData: %w", err)
	}
	return cpacket, nil
}

// SendNop writes the NOP command (0x00). No reply is generated; a write
// failure indicates the socket is gone.
func (e *Client) SendNop() error {
	if e == nil {
		return fmt.Errorf("SendNop: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return fmt.Errorf("SendNop: not connected")
	}

	msg := Encap{
		Command:       CmdNop,
		SessionHandle: e.session,
	}

	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	if err := e.sendEncap(&msg); err != nil {
		e.drop()
		return fmt.Errorf("SendNop: %w", err)
	}
	return nil
}
