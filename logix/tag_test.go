package logix

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ParsedTag
	}{
		{
			"plain tag",
			"Test",
			ParsedTag{BaseTag: "Test", BitIndex: -1},
		},
		{
			"array element",
			"Arr[5]",
			ParsedTag{BaseTag: "Arr", Indices: []uint32{5}, BitIndex: -1},
		},
		{
			"multi dimensional",
			"Grid[1,2,3]",
			ParsedTag{BaseTag: "Grid", Indices: []uint32{1, 2, 3}, BitIndex: -1},
		},
		{
			"whitespace in indices",
			"Grid[ 1 , 2 ]",
			ParsedTag{BaseTag: "Grid", Indices: []uint32{1, 2}, BitIndex: -1},
		},
		{
			"bit of word",
			"MyDINT.5",
			ParsedTag{BaseTag: "MyDINT", BitIndex: 5},
		},
		{
			"bit of array element",
			"MyDINTArray[10].7",
			ParsedTag{BaseTag: "MyDINTArray", Indices: []uint32{10}, BitIndex: 7},
		},
		{
			"program scoped",
			"Program:MainProgram.Count",
			ParsedTag{Program: "Program:MainProgram", BaseTag: "Count", BitIndex: -1},
		},
		{
			"program keyword case insensitive",
			"program:Main.Count",
			ParsedTag{Program: "program:Main", BaseTag: "Count", BitIndex: -1},
		},
		{
			"members",
			"MyUDT.Member.Sub",
			ParsedTag{
				BaseTag:  "MyUDT",
				Members:  []Member{{Name: "Member"}, {Name: "Sub"}},
				BitIndex: -1,
			},
		},
		{
			"member with indices",
			"MyUDT.Member[1,2].Sub[3]",
			ParsedTag{
				BaseTag: "MyUDT",
				Members: []Member{
					{Name: "Member", Indices: []uint32{1, 2}},
					{Name: "Sub", Indices: []uint32{3}},
				},
				BitIndex: -1,
			},
		},
		{
			"member then bit",
			"Timer.PRE.0",
			ParsedTag{
				BaseTag:  "Timer",
				Members:  []Member{{Name: "PRE"}},
				BitIndex: 0,
			},
		},
		{
			"64 is a member not a bit",
			"Tag.64",
			ParsedTag{
				BaseTag:  "Tag",
				Members:  []Member{{Name: "64"}},
				BitIndex: -1,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTag(tc.input)
			if err != nil {
				t.Fatalf("ParseTag(%q): %v", tc.input, err)
			}
			if diff := cmp.Diff(tc.expected, got); diff != "" {
				t.Errorf("ParseTag(%q) mismatch (-want +got):\n%s", tc.input, diff)
			}
		})
	}
}

func TestParseTagErrors(t *testing.T) {
	for _, input := range []string{"", "  ", "Program:Main", "Arr[", "Arr[1,2,3,4]", "Arr[x]", "[5]"} {
		if _, err := ParseTag(input); err == nil {
			t.Errorf("ParseTag(%q) expected error", input)
		}
	}
}

func TestParsedTagName(t *testing.T) {
	for _, name := range []string{
		"Test",
		"Arr[5]",
		"Grid[1,2,3]",
		"MyDINT.5",
		"Program:MainProgram.Count",
		"MyUDT.Member[1,2].Sub[3]",
		"MyDINTArray[10].7",
	} {
		parsed, err := ParseTag(name)
		if err != nil {
			t.Fatalf("ParseTag(%q): %v", name, err)
		}
		if got := parsed.Name(); got != name {
			t.Errorf("Name() = %q, want %q", got, name)
		}
	}
}

func TestCompileIOIGoldens(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		declared byte
		expected []byte
	}{
		{
			"simple even",
			"Test", 0,
			[]byte{0x91, 0x04, 'T', 'e', 's', 't'},
		},
		{
			"simple odd padded",
			"Tag", 0,
			[]byte{0x91, 0x03, 'T', 'a', 'g', 0x00},
		},
		{
			"array element",
			"Arr[5]", 0,
			[]byte{0x91, 0x03, 'A', 'r', 'r', 0x00, 0x28, 0x05},
		},
		{
			"array element 16 bit",
			"Arr[500]", 0,
			[]byte{0x91, 0x03, 'A', 'r', 'r', 0x00, 0x29, 0x00, 0xF4, 0x01},
		},
		{
			"array element 32 bit",
			"Arr[100000]", 0,
			[]byte{0x91, 0x03, 'A', 'r', 'r', 0x00, 0x2A, 0x00, 0xA0, 0x86, 0x01, 0x00},
		},
		{
			"bool array backed by dword",
			"BoolArray[32]", TypeDWORD,
			[]byte{0x91, 0x09, 'B', 'o', 'o', 'l', 'A', 'r', 'r', 'a', 'y', 0x00, 0x28, 0x01},
		},
		{
			"bit index is not part of the path",
			"MyDINT.5", 0,
			[]byte{0x91, 0x06, 'M', 'y', 'D', 'I', 'N', 'T'},
		},
		{
			"program scoped",
			"Program:Main.Count", 0,
			append(append([]byte{0x91, 0x0C}, []byte("Program:Main")...),
				0x91, 0x05, 'C', 'o', 'u', 'n', 't', 0x00),
		},
		{
			"member with element",
			"UDT.Arr[3]", 0,
			[]byte{0x91, 0x03, 'U', 'D', 'T', 0x00, 0x91, 0x03, 'A', 'r', 'r', 0x00, 0x28, 0x03},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := ParseTag(tc.tag)
			if err != nil {
				t.Fatalf("ParseTag: %v", err)
			}
			ioi, err := CompileIOI(parsed, tc.declared)
			if err != nil {
				t.Fatalf("CompileIOI: %v", err)
			}
			if !bytes.Equal(ioi, tc.expected) {
				t.Errorf("CompileIOI(%q) = % X, want % X", tc.tag, []byte(ioi), tc.expected)
			}
		})
	}
}

// Every compiled IOI has even length, whatever the tag shape.
func TestCompileIOIWordAligned(t *testing.T) {
	identChars := []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_")

	rapid.Check(t, func(t *rapid.T) {
		gen := rapid.StringOfN(rapid.RuneFrom(identChars), 1, 30, -1)

		parsed := ParsedTag{BaseTag: gen.Draw(t, "base"), BitIndex: -1}
		if rapid.Bool().Draw(t, "withProgram") {
			parsed.Program = "Program:" + gen.Draw(t, "program")
		}
		nIdx := rapid.IntRange(0, 3).Draw(t, "nIdx")
		for i := 0; i < nIdx; i++ {
			parsed.Indices = append(parsed.Indices, rapid.Uint32().Draw(t, "idx"))
		}
		nMembers := rapid.IntRange(0, 3).Draw(t, "nMembers")
		for i := 0; i < nMembers; i++ {
			m := Member{Name: gen.Draw(t, "member")}
			if rapid.Bool().Draw(t, "memberIdx") {
				m.Indices = []uint32{rapid.Uint32().Draw(t, "mIdx")}
			}
			parsed.Members = append(parsed.Members, m)
		}

		ioi, err := CompileIOI(parsed, 0)
		if err != nil {
			t.Fatalf("CompileIOI: %v", err)
		}
		if len(ioi)%2 != 0 {
			t.Errorf("IOI has odd length %d: % X", len(ioi), []byte(ioi))
		}
	})
}

func TestBitWithinDWORD(t *testing.T) {
	tests := []struct {
		index    uint32
		expected uint32
	}{
		{0, 0}, {31, 31}, {32, 0}, {33, 1}, {95, 31}, {96, 0},
	}
	for _, tc := range tests {
		if got := BitWithinDWORD(tc.index); got != tc.expected {
			t.Errorf("BitWithinDWORD(%d) = %d, want %d", tc.index, got, tc.expected)
		}
	}
}
