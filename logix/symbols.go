package logix

import (
	"encoding/binary"
	"fmt"
	"strings"

	"taglink/cip"
	"taglink/logging"
)

// Tag is one entry of the controller's symbol table.
type Tag struct {
	Name          string // qualified with the program prefix when scoped
	InstanceID    uint32
	SymbolType    byte
	DataTypeValue uint16 // lower 12 bits of the 16-bit symbol type
	ArrayDim      byte   // 0..3
	IsStruct      bool
	ElementCount  uint32 // product of declared dimensions, 0 for scalars
}

// TypeName renders the tag's data type.
func (t Tag) TypeName() string {
	name := TypeName(byte(t.DataTypeValue))
	if t.IsStruct {
		name = fmt.Sprintf("STRUCT(0x%03X)", t.DataTypeValue)
	}
	if t.ArrayDim > 0 {
		name += "[]"
	}
	return name
}

// IsProgram reports whether the entry names a program rather than a
// tag: "Program:Main" is a program, "Program:Main.Count" is a tag.
func (t Tag) IsProgram() bool {
	return strings.HasPrefix(t.Name, "Program:") && !strings.Contains(t.Name[8:], ".")
}

// filteredNameParts marks symbol-table entries that are internal
// bookkeeping rather than readable tags.
var filteredNameParts = []string{"__", "Routine:", "Map:", "Task:", "UDI:"}

func isFilteredName(name string) bool {
	for _, part := range filteredNameParts {
		if strings.Contains(name, part) {
			return true
		}
	}
	return false
}

// GetTagList enumerates the controller's tags. With allTags set, the
// controller-scope walk is followed by one walk per discovered program,
// with program-scoped names qualified as "Program:<Name>.<Tag>".
func (p *PLC) GetTagList(allTags bool) (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("GetTagList: nil handle")
	}

	entries, status := p.walkSymbols("")
	if status != "" {
		return errResponse("", status), nil
	}

	tags := make([]Tag, 0, len(entries))
	var programs []string
	for _, t := range entries {
		if t.IsProgram() {
			programs = append(programs, t.Name)
			continue
		}
		tags = append(tags, t)
	}

	if allTags {
		for _, prog := range programs {
			progTags, status := p.walkSymbols(prog)
			if status != "" {
				logging.Debugf("logix", "program %s walk: %s", prog, status)
				continue
			}
			prefix := prog + "."
			for _, t := range progTags {
				if !strings.HasPrefix(t.Name, "Program:") {
					t.Name = prefix + t.Name
				}
				tags = append(tags, t)
			}
		}
	}

	return okResponse("", Value{Kind: ValueTags, Tags: tags}), nil
}

// GetProgramTagList enumerates the tags of one program. The name may be
// given with or without the "Program:" prefix.
func (p *PLC) GetProgramTagList(program string) (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("GetProgramTagList: nil handle")
	}
	if !strings.HasPrefix(program, "Program:") {
		program = "Program:" + program
	}

	entries, status := p.walkSymbols(program)
	if status != "" {
		return errResponse(program, status), nil
	}

	prefix := program + "."
	tags := make([]Tag, 0, len(entries))
	for _, t := range entries {
		if !strings.HasPrefix(t.Name, "Program:") {
			t.Name = prefix + t.Name
		}
		tags = append(tags, t)
	}
	return okResponse(program, Value{Kind: ValueTags, Tags: tags}), nil
}

// GetProgramsList returns the names of the controller's programs.
func (p *PLC) GetProgramsList() (*Response, error) {
	if p == nil {
		return nil, fmt.Errorf("GetProgramsList: nil handle")
	}

	entries, status := p.walkSymbols("")
	if status != "" {
		return errResponse("", status), nil
	}

	var programs []string
	seen := make(map[string]bool)
	for _, t := range entries {
		if t.IsProgram() && !seen[t.Name] {
			seen[t.Name] = true
			programs = append(programs, t.Name)
		}
	}
	return okResponse("", Value{Kind: ValuePrograms, Programs: programs}), nil
}

// walkSymbols pages through the Symbol object (class 0x6B) with the Get
// Instance Attribute List service, advancing the instance cursor past
// the highest id of each page while the device reports partial
// transfer. scope is "" for controller scope or "Program:<Name>".
func (p *PLC) walkSymbols(scope string) ([]Tag, string) {
	var out []Tag
	cursor := uint32(0)

	for {
		entries, lastInstance, more, status := p.readSymbolPage(scope, cursor)
		if status != "" {
			return nil, status
		}
		for _, t := range entries {
			if isFilteredName(t.Name) {
				continue
			}
			out = append(out, t)
		}
		if !more || len(entries) == 0 {
			return out, ""
		}
		cursor = lastInstance + 1
	}
}

// symbolListAttrs requests symbol name (1), symbol type (2), and array
// dimension sizes (8).
var symbolListAttrs = []byte{
	0x03, 0x00,
	0x01, 0x00,
	0x02, 0x00,
	0x08, 0x00,
}

func (p *PLC) readSymbolPage(scope string, cursor uint32) (tags []Tag, lastInstance uint32, more bool, status string) {
	b := cip.Path()
	if scope != "" {
		b = b.Symbol(scope)
	}
	path, err := b.ClassAuto(ClassSymbol).InstanceAuto(cursor).Build()
	if err != nil {
		return nil, 0, false, fmt.Sprintf("Malformed request: %v", err)
	}

	frame := make([]byte, 0, 2+len(path)+len(symbolListAttrs))
	frame = append(frame, SvcGetInstanceAttrList)
	frame = append(frame, path.WordLen())
	frame = append(frame, path...)
	frame = append(frame, symbolListAttrs...)

	cipResp, st := p.request(frame)
	if st != "" {
		return nil, 0, false, st
	}

	reply, err := cip.ParseReply(cipResp)
	if err != nil {
		return nil, 0, false, fmt.Sprintf("Malformed reply: %v", err)
	}
	if reply.GeneralStatus != cip.StatusSuccess && reply.GeneralStatus != cip.StatusPartialTransfer {
		return nil, 0, false, cip.StatusText(reply.GeneralStatus, reply.AdditionalStatus)
	}

	tags, lastInstance = parseSymbolPage(reply.Data)
	return tags, lastInstance, reply.GeneralStatus == cip.StatusPartialTransfer, ""
}

// parseSymbolPage parses the entry stream of a Get Instance Attribute
// List reply: instance id, length-prefixed name, 16-bit symbol type,
// three 32-bit dimension sizes.
func parseSymbolPage(data []byte) (tags []Tag, lastInstance uint32) {
	i := 0
	for i+8 <= len(data) {
		instance := binary.LittleEndian.Uint32(data[i : i+4])
		i += 4
		nameLen := int(binary.LittleEndian.Uint16(data[i : i+2]))
		i += 2
		if i+nameLen+2+12 > len(data) {
			break
		}
		name := string(data[i : i+nameLen])
		i += nameLen
		rawType := binary.LittleEndian.Uint16(data[i : i+2])
		i += 2
		var dims [3]uint32
		for d := 0; d < 3; d++ {
			dims[d] = binary.LittleEndian.Uint32(data[i : i+4])
			i += 4
		}

		if name == "" || instance == 0 {
			continue
		}

		elements := uint32(0)
		if dims[0] > 0 {
			elements = dims[0]
			for _, d := range dims[1:] {
				if d > 0 {
					elements *= d
				}
			}
		}

		tags = append(tags, Tag{
			Name:          name,
			InstanceID:    instance,
			SymbolType:    byte(rawType & 0xFF),
			DataTypeValue: rawType & 0x0FFF,
			ArrayDim:      byte(rawType >> 13 & 0x03),
			IsStruct:      rawType&0x8000 != 0,
			ElementCount:  elements,
		})
		lastInstance = instance
	}
	return tags, lastInstance
}
