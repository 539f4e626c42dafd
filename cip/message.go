package cip

import "fmt"

// Request is a generic CIP service request: service code, request path,
// service-specific data.
type Request struct {
	Service byte
	Path    EPath
	Data    []byte
}

// Marshal renders the request frame: service, path size in words, path,
// data.
func (r Request) Marshal() []byte {
	out := make([]byte, 0, 2+len(r.Path)+len(r.Data))
	out = append(out, r.Service)
	out = append(out, r.Path.WordLen())
	out = append(out, r.Path...)
	out = append(out, r.Data...)
	return out
}

// BuildObjectRequest builds a request addressed by class and instance,
// with an optional attribute, promoting class and instance to their
// 16-bit encodings when they exceed one byte.
func BuildObjectRequest(service byte, class uint16, instance uint32, attribute *byte, data []byte) ([]byte, error) {
	b := Path().ClassAuto(class).InstanceAuto(instance)
	if attribute != nil {
		b = b.Attribute(*attribute)
	}
	path, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("BuildObjectRequest: %w", err)
	}
	return Request{Service: service, Path: path, Data: data}.Marshal(), nil
}

// Reply is a parsed CIP service reply header plus its body.
type Reply struct {
	Service          byte // original service with the reply bit set
	GeneralStatus    byte
	AdditionalStatus []byte // raw additional-status words
	Data             []byte
}

// ParseReply splits a CIP reply into its header fields and body:
// service|0x80, reserved, general status, additional-status word count,
// additional status, data.
func ParseReply(raw []byte) (*Reply, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("ParseReply: reply too short: %d bytes", len(raw))
	}
	addlWords := int(raw[3])
	dataStart := 4 + addlWords*2
	if dataStart > len(raw) {
		return nil, fmt.Errorf("ParseReply: truncated additional status: need %d bytes, have %d", dataStart, len(raw))
	}
	return &Reply{
		Service:          raw[0],
		GeneralStatus:    raw[2],
		AdditionalStatus: raw[4:dataStart],
		Data:             raw[dataStart:],
	}, nil
}

// StatusText renders the reply's status using the general and extended
// status tables.
func (r *Reply) StatusText() string {
	return StatusText(r.GeneralStatus, r.AdditionalStatus)
}
