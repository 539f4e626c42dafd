package eip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"taglink/logging"
)

// Identity is the parsed ListIdentity identity item.
type Identity struct {
	EncapsulationVersion uint16
	VendorID             uint16
	DeviceType           uint16
	ProductCode          uint16
	RevisionMajor        byte
	RevisionMinor        byte
	Status               uint16
	SerialNumber         uint32
	ProductName          string
	State                byte

	IP   net.IP
	Port uint16
}

// discoverContext is echoed back by targets in the reply header and used
// to discard unrelated datagrams during broadcast discovery.
var discoverContext = [8]byte{'H', 'i', 'M', 'o', 'm', 0, 0, 0}

// ListIdentityTCP asks the connected target to identify itself over the
// established TCP stream (encapsulation command 0x63). This is not
// broadcast discovery; it usually returns a single record.
func (e *Client) ListIdentityTCP() ([]Identity, error) {
	if e == nil {
		return nil, fmt.Errorf("ListIdentityTCP: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, fmt.Errorf("ListIdentityTCP: not connected")
	}

	// ListIdentity conventionally uses session handle 0.
	req := Encap{Command: CmdListIdentity}

	resp, err := e.transactEncap(&req)
	if err != nil {
		return nil, fmt.Errorf("ListIdentityTCP: %w", err)
	}
	if resp.Status != 0 {
		return nil, fmt.Errorf("ListIdentityTCP: encapsulation status 0x%08X", resp.Status)
	}

	idents, err := parseIdentityPayload(resp.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("ListIdentityTCP: %w", err)
	}
	return idents, nil
}

// ListIdentityUDP broadcasts a ListIdentity request over UDP and collects
// replies until a read window expires with no datagram. Replies whose
// sender context does not echo ours are ignored.
//
// broadcastIP is usually "255.255.255.255" or a directed broadcast such
// as "192.168.1.255". window is the per-read timeout (500ms when <= 0).
func ListIdentityUDP(broadcastIP string, port uint16, window time.Duration) ([]Identity, error) {
	if broadcastIP == "" {
		broadcastIP = "255.255.255.255"
	}
	if port == 0 {
		port = DefaultPort
	}
	if window <= 0 {
		window = 500 * time.Millisecond
	}

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return nil, fmt.Errorf("ListIdentityUDP: invalid broadcast IP %q", broadcastIP)
	}
	ip = ip.To4()
	if ip == nil {
		return nil, fmt.Errorf("ListIdentityUDP: broadcast IP must be IPv4: %q", broadcastIP)
	}

	uc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("ListIdentityUDP: listen: %w", err)
	}
	defer uc.Close()

	req := Encap{Command: CmdListIdentity, Context: discoverContext}
	raddr := &net.UDPAddr{IP: ip, Port: int(port)}
	if _, err := uc.WriteToUDP(req.Bytes(), raddr); err != nil {
		return nil, fmt.Errorf("ListIdentityUDP: send: %w", err)
	}
	logging.Debugf("discovery", "ListIdentity broadcast to %s", raddr)

	// Dedupe by (IP, serial); a chassis can answer on several adapters.
	type key struct {
		ip     string
		serial uint32
	}
	seen := make(map[key]struct{})
	out := make([]Identity, 0, 8)

	buf := make([]byte, 4096)
	for {
		_ = uc.SetReadDeadline(time.Now().Add(window))
		n, src, err := uc.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return nil, fmt.Errorf("ListIdentityUDP: read: %w", err)
		}
		if n < EncapHeaderSize {
			continue
		}

		resp, err := ParseEncap(buf[:n])
		if err != nil || resp.Command != CmdListIdentity || resp.Status != 0 {
			continue
		}
		if !bytes.Equal(resp.Context[:], discoverContext[:]) {
			continue
		}

		idents, err := parseIdentityPayload(resp.Data, src.IP)
		if err != nil {
			// Malformed reply; keep collecting rather than failing.
			continue
		}
		for _, id := range idents {
			k := key{ip: id.IP.String(), serial: id.SerialNumber}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, id)
		}
	}

	return out, nil
}

// parseIdentityPayload walks the CPF items of a ListIdentity reply and
// parses every identity item (type 0x000C).
func parseIdentityPayload(p []byte, fallbackIP net.IP) ([]Identity, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("identity payload too short: %d", len(p))
	}

	count := int(binary.LittleEndian.Uint16(p[0:2]))
	off := 2

	idents := make([]Identity, 0, count)
	for i := 0; i < count; i++ {
		if off+4 > len(p) {
			return nil, fmt.Errorf("truncated item header at item %d", i)
		}
		itemType := binary.LittleEndian.Uint16(p[off : off+2])
		itemLen := int(binary.LittleEndian.Uint16(p[off+2 : off+4]))
		off += 4

		if off+itemLen > len(p) {
			return nil, fmt.Errorf("truncated item data at item %d", i)
		}
		itemData := p[off : off+itemLen]
		off += itemLen

		if itemType != CpfIdentityResponseId {
			continue
		}
		id, err := parseIdentityItem(itemData)
		if err != nil {
			return nil, err
		}
		if id.IP == nil || id.IP.To4() == nil || id.IP.Equal(net.IPv4zero) {
			id.IP = fallbackIP
		}
		idents = append(idents, id)
	}

	return idents, nil
}

// parseIdentityItem parses one identity item body: encapsulation version,
// socket address, vendor, device type, product code, revision, status,
// serial, length-prefixed product name, state.
func parseIdentityItem(b []byte) (Identity, error) {
	if len(b) < 33 {
		return Identity{}, fmt.Errorf("identity item too short: %d", len(b))
	}
	off := 0

	encapVer := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2

	// Socket address: family(2), port(2), addr(4), zero(8). Port and
	// address are network byte order.
	sock := b[off : off+16]
	off += 16
	port := binary.BigEndian.Uint16(sock[2:4])
	ip := net.IPv4(sock[4], sock[5], sock[6], sock[7])

	vendor := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	devType := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	prodCode := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2

	revMaj := b[off]
	revMin := b[off+1]
	off += 2

	status := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2

	serial := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4

	nameLen := int(b[off])
	off++
	if off+nameLen > len(b) {
		return Identity{}, fmt.Errorf("product name truncated: need %d bytes, have %d", nameLen, len(b)-off)
	}
	name := string(b[off : off+nameLen])
	off += nameLen

	if off >= len(b) {
		return Identity{}, fmt.Errorf("missing state byte")
	}

	return Identity{
		EncapsulationVersion: encapVer,
		VendorID:             vendor,
		DeviceType:           devType,
		ProductCode:          prodCode,
		RevisionMajor:        revMaj,
		RevisionMinor:        revMin,
		Status:               status,
		SerialNumber:         serial,
		ProductName:          name,
		State:                b[off],
		IP:                   ip,
		Port:                 port,
	}, nil
}
