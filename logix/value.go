package logix

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// ValueKind discriminates the tagged Value variant.
type ValueKind int

const (
	ValueNil ValueKind = iota
	ValueBool
	ValueInt
	ValueUint
	ValueFloat
	ValueString
	ValueBytes
	ValueTime
	ValueList
	ValueTags
	ValuePrograms
	ValueDevices
)

// Value is the decoded result of a read (or the payload of a list
// operation). Exactly one of the carrier fields is meaningful, selected
// by Kind; TypeCode preserves the CIP type for numeric kinds.
type Value struct {
	Kind     ValueKind
	TypeCode byte

	Bool     bool
	Int      int64
	Uint     uint64
	Float    float64
	Str      string
	Bytes    []byte
	Time     time.Time
	List     []Value
	Tags     []Tag
	Programs []string
	Devices  []Device
}

// String renders the value for display.
func (v Value) String() string {
	switch v.Kind {
	case ValueNil:
		return "<nil>"
	case ValueBool:
		return fmt.Sprintf("%t", v.Bool)
	case ValueInt:
		return fmt.Sprintf("%d", v.Int)
	case ValueUint:
		return fmt.Sprintf("%d", v.Uint)
	case ValueFloat:
		return fmt.Sprintf("%g", v.Float)
	case ValueString:
		return v.Str
	case ValueBytes:
		return fmt.Sprintf("% X", v.Bytes)
	case ValueTime:
		return v.Time.Format(time.RFC3339Nano)
	case ValueList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	case ValueTags:
		return fmt.Sprintf("<%d tags>", len(v.Tags))
	case ValuePrograms:
		return fmt.Sprintf("<%d programs>", len(v.Programs))
	case ValueDevices:
		return fmt.Sprintf("<%d devices>", len(v.Devices))
	default:
		return "<unknown>"
	}
}

// resolveEncoding maps a configured string encoding name to a decoder.
// UTF-8 (the default) returns nil, meaning pass-through.
func resolveEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8", "ascii", "us-ascii":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("resolveEncoding: unknown encoding %q", name)
	}
	return enc, nil
}

func decodeStringBytes(b []byte, encName string) (string, error) {
	enc, err := resolveEncoding(encName)
	if err != nil {
		return "", err
	}
	if enc == nil {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decodeStringBytes: %w", err)
	}
	return string(out), nil
}

func encodeStringBytes(s, encName string) ([]byte, error) {
	enc, err := resolveEncoding(encName)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return []byte(s), nil
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encodeStringBytes: %w", err)
	}
	return out, nil
}

// decodeScalar decodes one element of an atomic type and returns the
// number of bytes consumed.
func decodeScalar(code byte, b []byte) (Value, int, error) {
	info, ok := LookupType(code)
	if !ok {
		// Unknown type: hand the caller the raw bytes.
		return Value{Kind: ValueBytes, TypeCode: code, Bytes: b}, len(b), nil
	}
	if info.Size == 0 {
		return Value{}, 0, fmt.Errorf("decodeScalar: %s is not fixed-width", info.Name)
	}
	if len(b) < info.Size {
		return Value{}, 0, fmt.Errorf("decodeScalar: %s needs %d bytes, have %d", info.Name, info.Size, len(b))
	}

	v := Value{TypeCode: code}
	switch info.Kind {
	case KindBool:
		v.Kind = ValueBool
		v.Bool = b[0] != 0
	case KindSignedInt:
		v.Kind = ValueInt
		switch info.Size {
		case 1:
			v.Int = int64(int8(b[0]))
		case 2:
			v.Int = int64(int16(binary.LittleEndian.Uint16(b)))
		case 4:
			v.Int = int64(int32(binary.LittleEndian.Uint32(b)))
		case 8:
			v.Int = int64(binary.LittleEndian.Uint64(b))
		}
	case KindUnsignedInt:
		v.Kind = ValueUint
		switch info.Size {
		case 1:
			v.Uint = uint64(b[0])
		case 2:
			v.Uint = uint64(binary.LittleEndian.Uint16(b))
		case 4:
			v.Uint = uint64(binary.LittleEndian.Uint32(b))
		case 8:
			v.Uint = binary.LittleEndian.Uint64(b)
		}
	case KindFloat:
		v.Kind = ValueFloat
		switch info.Size {
		case 4:
			v.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case 8:
			v.Float = math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
	case KindDateTime:
		// Microseconds since the Unix epoch, UTC.
		v.Kind = ValueTime
		v.Time = time.UnixMicro(int64(binary.LittleEndian.Uint64(b))).UTC()
	default:
		v.Kind = ValueBytes
		v.Bytes = b[:info.Size]
	}
	return v, info.Size, nil
}

// decodeLogixString decodes the standard STRING struct body: int32
// length followed by up to 82 data bytes.
func decodeLogixString(b []byte, encName string) (Value, int, error) {
	if len(b) < 4 {
		return Value{}, 0, fmt.Errorf("decodeLogixString: body too short: %d bytes", len(b))
	}
	n := int(int32(binary.LittleEndian.Uint32(b[0:4])))
	if n < 0 {
		n = 0
	}
	if n > StringDataMax {
		n = StringDataMax
	}
	if len(b) < 4+n {
		return Value{}, 0, fmt.Errorf("decodeLogixString: length %d exceeds body %d", n, len(b)-4)
	}
	s, err := decodeStringBytes(b[4:4+n], encName)
	if err != nil {
		return Value{}, 0, err
	}
	consumed := len(b)
	if consumed > StringWireSize {
		consumed = StringWireSize
	}
	return Value{Kind: ValueString, TypeCode: TypeSTRING, Str: s}, consumed, nil
}

// decodeShortString decodes an O_STRING: one length byte followed by
// data.
func decodeShortString(b []byte, encName string) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, fmt.Errorf("decodeShortString: empty body")
	}
	n := int(b[0])
	if len(b) < 1+n {
		return Value{}, 0, fmt.Errorf("decodeShortString: length %d exceeds body %d", n, len(b)-1)
	}
	s, err := decodeStringBytes(b[1:1+n], encName)
	if err != nil {
		return Value{}, 0, err
	}
	return Value{Kind: ValueString, TypeCode: TypeOSTRING, Str: s}, 1 + n, nil
}

// DecodeValue decodes a read reply body for a given type code. For
// STRUCT reads, structHandle selects STRING decoding (0x0FCE) or raw
// bytes. count > 1 produces a List of successive fixed-width elements.
func DecodeValue(code byte, structHandle uint16, body []byte, count int, encName string) (Value, error) {
	if count < 1 {
		count = 1
	}

	decodeOne := func(b []byte) (Value, int, error) {
		switch {
		case code == TypeSTRUCT && structHandle == StringStructHandle:
			return decodeLogixString(b, encName)
		case code == TypeSTRUCT:
			// Unknown template: raw bytes, consumed whole.
			return Value{Kind: ValueBytes, TypeCode: code, Bytes: b}, len(b), nil
		case code == TypeSTRING:
			return decodeLogixString(b, encName)
		case code == TypeOSTRING:
			return decodeShortString(b, encName)
		default:
			return decodeScalar(code, b)
		}
	}

	if count == 1 {
		v, _, err := decodeOne(body)
		return v, err
	}

	list := make([]Value, 0, count)
	rest := body
	for i := 0; i < count; i++ {
		v, n, err := decodeOne(rest)
		if err != nil {
			return Value{}, fmt.Errorf("DecodeValue: element %d: %w", i, err)
		}
		list = append(list, v)
		if n >= len(rest) {
			rest = nil
			if i+1 < count {
				return Value{}, fmt.Errorf("DecodeValue: body exhausted after %d of %d elements", i+1, count)
			}
		} else {
			rest = rest[n:]
		}
	}
	return Value{Kind: ValueList, TypeCode: code, List: list}, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		if i, ok := toInt64(v); ok {
			return float64(i), true
		}
		return 0, false
	}
}

// EncodeScalar encodes one host value as the given CIP type.
func EncodeScalar(code byte, value any, encName string) ([]byte, error) {
	info, ok := LookupType(code)
	if !ok {
		return nil, fmt.Errorf("EncodeScalar: unknown type 0x%02X", code)
	}

	switch info.Kind {
	case KindBool:
		i, ok := toInt64(value)
		if !ok {
			return nil, fmt.Errorf("EncodeScalar: cannot encode %T as BOOL", value)
		}
		if i != 0 {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil

	case KindSignedInt, KindUnsignedInt, KindDateTime:
		var u uint64
		if t, ok := value.(time.Time); ok && info.Kind == KindDateTime {
			u = uint64(t.UnixMicro())
		} else {
			i, ok := toInt64(value)
			if !ok {
				return nil, fmt.Errorf("EncodeScalar: cannot encode %T as %s", value, info.Name)
			}
			u = uint64(i)
		}
		out := make([]byte, info.Size)
		switch info.Size {
		case 1:
			out[0] = byte(u)
		case 2:
			binary.LittleEndian.PutUint16(out, uint16(u))
		case 4:
			binary.LittleEndian.PutUint32(out, uint32(u))
		case 8:
			binary.LittleEndian.PutUint64(out, u)
		}
		return out, nil

	case KindFloat:
		f, ok := toFloat64(value)
		if !ok {
			return nil, fmt.Errorf("EncodeScalar: cannot encode %T as %s", value, info.Name)
		}
		out := make([]byte, info.Size)
		if info.Size == 4 {
			binary.LittleEndian.PutUint32(out, math.Float32bits(float32(f)))
		} else {
			binary.LittleEndian.PutUint64(out, math.Float64bits(f))
		}
		return out, nil

	case KindStringStruct:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("EncodeScalar: cannot encode %T as %s", value, info.Name)
		}
		raw, err := encodeStringBytes(s, encName)
		if err != nil {
			return nil, err
		}
		if len(raw) > StringDataMax {
			raw = raw[:StringDataMax]
		}
		if code == TypeOSTRING {
			return append([]byte{byte(len(raw))}, raw...), nil
		}
		out := make([]byte, StringWireSize)
		binary.LittleEndian.PutUint32(out[0:4], uint32(len(raw)))
		copy(out[4:], raw)
		return out, nil

	default:
		if b, ok := value.([]byte); ok {
			return b, nil
		}
		return nil, fmt.Errorf("EncodeScalar: cannot encode %T as %s", value, info.Name)
	}
}

// normalizeElements flattens a host value into its elements for a
// write: slices become their elements, scalars a single element.
func normalizeElements(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []bool:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []int8:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []int16:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []int:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []int32:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []int64:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []uint16:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []uint32:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []uint64:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []float32:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []float64:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	default:
		return []any{value}
	}
}

// EncodeValue encodes a scalar or array host value for a write,
// returning the concatenated element bytes and the element count.
func EncodeValue(code byte, value any, encName string) ([]byte, uint16, error) {
	elems := normalizeElements(value)
	if len(elems) == 0 {
		return nil, 0, fmt.Errorf("EncodeValue: empty array")
	}
	if len(elems) > 0xFFFF {
		return nil, 0, fmt.Errorf("EncodeValue: array too large: %d elements", len(elems))
	}
	out := make([]byte, 0, len(elems)*8)
	for i, e := range elems {
		b, err := EncodeScalar(code, e, encName)
		if err != nil {
			return nil, 0, fmt.Errorf("EncodeValue: element %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, uint16(len(elems)), nil
}
