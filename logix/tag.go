package logix

import (
	"fmt"
	"strconv"
	"strings"

	"taglink/cip"
)

// Member is one dotted member access within a tag reference, with any
// bracketed indices attached to that member.
type Member struct {
	Name    string
	Indices []uint32
}

// ParsedTag is the structural form of a textual Logix tag reference.
// BitIndex is -1 when no terminal bit access is present.
type ParsedTag struct {
	BaseTag  string
	Indices  []uint32 // indices bracketed onto the base tag
	Program  string   // full "Program:<Name>" prefix, or ""
	Members  []Member
	BitIndex int
}

// Name reassembles the canonical textual form of the reference.
func (t ParsedTag) Name() string {
	var b strings.Builder
	if t.Program != "" {
		b.WriteString(t.Program)
		b.WriteByte('.')
	}
	b.WriteString(t.BaseTag)
	writeIndices(&b, t.Indices)
	for _, m := range t.Members {
		b.WriteByte('.')
		b.WriteString(m.Name)
		writeIndices(&b, m.Indices)
	}
	if t.BitIndex >= 0 {
		fmt.Fprintf(&b, ".%d", t.BitIndex)
	}
	return b.String()
}

func writeIndices(b *strings.Builder, idx []uint32) {
	if len(idx) == 0 {
		return
	}
	b.WriteByte('[')
	for i, n := range idx {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(b, "%d", n)
	}
	b.WriteByte(']')
}

// ParseTag parses a textual tag reference:
//
//	Program:MainProgram.Counter[3].PRE
//	MyUDT.Member[1,2].SubMember
//	MyDINT.5          (terminal numeric segment = bit index)
//
// The "Program:" keyword is matched case-insensitively; the captured
// prefix keeps the caller's spelling of the program name.
func ParseTag(name string) (ParsedTag, error) {
	t := ParsedTag{BitIndex: -1}

	if strings.TrimSpace(name) == "" {
		return t, fmt.Errorf("ParseTag: empty tag name")
	}

	segments := strings.Split(name, ".")

	if len(strings.TrimSpace(segments[0])) >= 8 &&
		strings.EqualFold(segments[0][:8], "Program:") {
		t.Program = segments[0]
		segments = segments[1:]
		if len(segments) == 0 {
			return t, fmt.Errorf("ParseTag: %q names a program, not a tag", name)
		}
	}

	base, baseIdx, err := parseSegment(segments[0])
	if err != nil {
		return t, fmt.Errorf("ParseTag: %w", err)
	}
	if base == "" {
		return t, fmt.Errorf("ParseTag: %q has an empty base segment", name)
	}
	t.BaseTag = base
	t.Indices = baseIdx
	segments = segments[1:]

	// A terminal pure-decimal segment is a bit access, not a member.
	if n := len(segments); n > 0 {
		if bit, ok := parseBitIndex(segments[n-1]); ok {
			t.BitIndex = bit
			segments = segments[:n-1]
		}
	}

	for _, seg := range segments {
		mName, mIdx, err := parseSegment(seg)
		if err != nil {
			return t, fmt.Errorf("ParseTag: %w", err)
		}
		if mName == "" {
			return t, fmt.Errorf("ParseTag: %q has an empty member segment", name)
		}
		t.Members = append(t.Members, Member{Name: mName, Indices: mIdx})
	}

	return t, nil
}

// parseSegment splits one dotted segment into its name and optional
// bracketed index list.
func parseSegment(seg string) (string, []uint32, error) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, nil, nil
	}
	if !strings.HasSuffix(seg, "]") {
		return "", nil, fmt.Errorf("segment %q has an unterminated index", seg)
	}
	name := seg[:open]
	inner := seg[open+1 : len(seg)-1]
	parts := strings.Split(inner, ",")
	if len(parts) > 3 {
		return "", nil, fmt.Errorf("segment %q has %d indices, maximum 3", seg, len(parts))
	}
	idx := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return "", nil, fmt.Errorf("segment %q has invalid index %q", seg, p)
		}
		idx = append(idx, uint32(n))
	}
	return name, idx, nil
}

// parseBitIndex accepts a pure decimal literal in [0,63].
func parseBitIndex(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	if err != nil || n > 63 {
		return 0, false
	}
	return n, true
}

// BitWithinDWORD returns the bit position of a BOOL-array element
// within its backing DWORD.
func BitWithinDWORD(index uint32) uint32 {
	return index % 32
}

// CompileIOI emits the CIP IOI for a parsed tag. declaredType is the
// tag's known CIP type code, or 0 when unknown. When the declared type
// is DWORD (a BOOL array's backing storage), only the first base index
// is emitted, divided by 32; the bit position is resolved afterwards.
func CompileIOI(t ParsedTag, declaredType byte) (cip.EPath, error) {
	b := cip.Path()

	if t.Program != "" {
		b = b.Symbol(t.Program)
	}
	b = b.Symbol(t.BaseTag)

	if declaredType == TypeDWORD && len(t.Indices) > 0 {
		b = b.Element(t.Indices[0] / 32)
	} else {
		for _, idx := range t.Indices {
			b = b.Element(idx)
		}
	}

	for _, m := range t.Members {
		b = b.Symbol(m.Name)
		for _, idx := range m.Indices {
			b = b.Element(idx)
		}
	}

	path, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("CompileIOI: %w", err)
	}
	return path, nil
}
