package logix

import (
	"encoding/binary"
	"fmt"
	"time"

	"taglink/cip"
	"taglink/eip"
)

// Device is a parsed identity record from discovery or an identity
// query.
type Device struct {
	IP           string
	VendorID     uint16
	Vendor       string
	DeviceTypeID uint16
	DeviceType   string
	ProductCode  uint16
	Revision     string
	Status       uint16
	SerialHex    string
	ProductName  string
	State        byte
}

// vendorNames maps ODVA-registered vendor ids.
var vendorNames = map[uint16]string{
	0x0001: "Rockwell Automation/Allen-Bradley",
	0x0002: "Schneider Electric",
	0x0003: "Honeywell",
	0x0005: "Omron (legacy)",
	0x001A: "Turck",
	0x0032: "SICK",
	0x0058: "Siemens",
	0x01EE: "Omron",
}

// deviceTypeNames maps CIP device profile codes.
var deviceTypeNames = map[uint16]string{
	0x000C: "Communications Adapter",
	0x000E: "Programmable Logic Controller",
	0x0018: "Human-Machine Interface",
	0x0025: "CIP Motion Drive",
	0x002F: "Generic Device",
	0x0030: "Managed Ethernet Switch",
}

// VendorName returns the registered vendor name, or "Unknown".
func VendorName(id uint16) string {
	if name, ok := vendorNames[id]; ok {
		return name
	}
	return "Unknown"
}

// DeviceTypeName returns the device profile name, or "Unknown".
func DeviceTypeName(id uint16) string {
	if name, ok := deviceTypeNames[id]; ok {
		return name
	}
	return "Unknown"
}

// String renders a one-line device summary.
func (d Device) String() string {
	return fmt.Sprintf("%s (%s) at %s rev %s serial %s", d.ProductName, d.DeviceType, d.IP, d.Revision, d.SerialHex)
}

func deviceFromIdentity(id eip.Identity) Device {
	ip := ""
	if id.IP != nil {
		ip = id.IP.String()
	}
	return Device{
		IP:           ip,
		VendorID:     id.VendorID,
		Vendor:       VendorName(id.VendorID),
		DeviceTypeID: id.DeviceType,
		DeviceType:   DeviceTypeName(id.DeviceType),
		ProductCode:  id.ProductCode,
		Revision:     fmt.Sprintf("%d.%d", id.RevisionMajor, id.RevisionMinor),
		Status:       id.Status,
		SerialHex:    fmt.Sprintf("0x%08X", id.SerialNumber),
		ProductName:  id.ProductName,
		State:        id.State,
	}
}

// Discover broadcasts ListIdentity on the local network and returns the
// devices that answered within the read window.
func (p *PLC) Discover() (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("Discover: nil handle")
	}
	port := p.Port
	if port == 0 {
		port = eip.DefaultPort
	}

	idents, err := eip.ListIdentityUDP("", port, 500*time.Millisecond)
	if err != nil {
		return errResponse("", StatusConnectionFailure), nil
	}

	devices := make([]Device, len(idents))
	for i, id := range idents {
		devices[i] = deviceFromIdentity(id)
	}
	return okResponse("", Value{Kind: ValueDevices, Devices: devices}), nil
}

// GetDeviceProperties asks the connected target to identify itself over
// the established TCP session.
func (p *PLC) GetDeviceProperties() (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("GetDeviceProperties: nil handle")
	}
	if err := p.ensureSession(); err != nil {
		return errResponse("", StatusConnectionFailure), nil
	}

	idents, err := p.client.ListIdentityTCP()
	if err != nil {
		p.dropSession()
		return errResponse("", StatusConnectionLost), nil
	}
	if len(idents) == 0 {
		return errResponse("", StatusNoResponse), nil
	}

	device := deviceFromIdentity(idents[0])
	if device.IP == "" || device.IP == "0.0.0.0" {
		device.IP = p.IPAddress
	}
	return okResponse("", Value{Kind: ValueDevices, Devices: []Device{device}}), nil
}

// GetModuleProperties queries the identity of the module in a backplane
// slot with an unconnected GetAttributesAll routed to that slot.
func (p *PLC) GetModuleProperties(slot byte) (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("GetModuleProperties: nil handle")
	}
	name := fmt.Sprintf("slot %d", slot)

	if err := p.ensureSession(); err != nil {
		return errResponse(name, StatusConnectionFailure), nil
	}

	embedded, err := cip.BuildObjectRequest(SvcGetAttributesAll, ClassIdentity, 1, nil, nil)
	if err != nil {
		return nil, err
	}
	frame := cip.BuildUnconnectedSend(embedded, cip.PortSegment(0x01, slot))

	resp, err := p.client.SendRRData(eip.UnconnectedPacket(frame))
	if err != nil {
		p.dropSession()
		return errResponse(name, StatusConnectionLost), nil
	}
	item, ok := resp.DataItem(eip.CpfUnconnectedDataId)
	if !ok {
		return errResponse(name, "Malformed reply: missing unconnected data item"), nil
	}
	inner, err := cip.UnwrapUnconnectedSendReply(item)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed reply: %v", err)), nil
	}
	reply, err := cip.ParseReply(inner)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed reply: %v", err)), nil
	}
	if reply.GeneralStatus != cip.StatusSuccess {
		return cipStatusResponse(name, reply.GeneralStatus, reply.AdditionalStatus), nil
	}

	device, err := parseIdentityAttributes(reply.Data)
	if err != nil {
		return errResponse(name, fmt.Sprintf("Malformed reply: %v", err)), nil
	}
	device.IP = p.IPAddress
	return okResponse(name, Value{Kind: ValueDevices, Devices: []Device{device}}), nil
}

// parseIdentityAttributes parses a GetAttributesAll reply from the
// Identity object: vendor, device type, product code, revision, status,
// serial, length-prefixed product name, state.
func parseIdentityAttributes(b []byte) (Device, error) {
	if len(b) < 15 {
		return Device{}, fmt.Errorf("identity attributes too short: %d bytes", len(b))
	}

	vendor := binary.LittleEndian.Uint16(b[0:2])
	devType := binary.LittleEndian.Uint16(b[2:4])
	prodCode := binary.LittleEndian.Uint16(b[4:6])
	revMaj, revMin := b[6], b[7]
	status := binary.LittleEndian.Uint16(b[8:10])
	serial := binary.LittleEndian.Uint32(b[10:14])

	nameLen := int(b[14])
	if 15+nameLen > len(b) {
		return Device{}, fmt.Errorf("product name truncated: need %d bytes, have %d", nameLen, len(b)-15)
	}
	name := string(b[15 : 15+nameLen])

	var state byte
	if len(b) > 15+nameLen {
		state = b[len(b)-1]
	}

	return Device{
		VendorID:     vendor,
		Vendor:       VendorName(vendor),
		DeviceTypeID: devType,
		DeviceType:   DeviceTypeName(devType),
		ProductCode:  prodCode,
		Revision:     fmt.Sprintf("%d.%d", revMaj, revMin),
		Status:       status,
		SerialHex:    fmt.Sprintf("0x%08X", serial),
		ProductName:  name,
		State:        state,
	}, nil
}
