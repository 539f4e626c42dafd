package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plcs.yaml")

	cfg := &Config{
		PLCs: []PLC{
			{
				Name:           "line1",
				IP:             "192.168.1.10",
				ProcessorSlot:  2,
				SocketTimeout:  2.5,
				ConnectionSize: 504,
				StringEncoding: "iso-8859-1",
			},
			{
				Name:     "packer",
				IP:       "192.168.1.11",
				Micro800: true,
				Route: []Hop{
					{Port: 1, Slot: 3},
					{Port: 2, Link: "10.10.0.5"},
				},
			},
		},
	}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.PLCs) != 2 {
		t.Fatalf("loaded %d PLCs, want 2", len(loaded.PLCs))
	}
	if loaded.PLCs[0].IP != "192.168.1.10" || loaded.PLCs[0].SocketTimeout != 2.5 {
		t.Errorf("first PLC mismatch: %+v", loaded.PLCs[0])
	}
	if !loaded.PLCs[1].Micro800 || len(loaded.PLCs[1].Route) != 2 {
		t.Errorf("second PLC mismatch: %+v", loaded.PLCs[1])
	}
	if loaded.PLCs[1].Route[1].Link != "10.10.0.5" {
		t.Errorf("route link mismatch: %+v", loaded.PLCs[1].Route)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plcs.yaml")

	raw := `plcs:
  - name: mixer
    ip: 10.1.2.3
    processor_slot: 1
    socket_timeout: 1.5
  - ip: 10.1.2.4
    micro800: true
`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PLCs[0].Name != "mixer" || cfg.PLCs[0].ProcessorSlot != 1 {
		t.Errorf("first PLC mismatch: %+v", cfg.PLCs[0])
	}
	if !cfg.PLCs[1].Micro800 {
		t.Errorf("second PLC mismatch: %+v", cfg.PLCs[1])
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("plcs:\n  - name: x\n"), 0644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for entry without ip")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PLC
		wantErr bool
	}{
		{"minimal", PLC{IP: "10.0.0.1"}, false},
		{"no ip", PLC{Name: "x"}, true},
		{"negative timeout", PLC{IP: "10.0.0.1", SocketTimeout: -1}, true},
		{"hop with slot and link", PLC{IP: "10.0.0.1", Route: []Hop{{Port: 1, Slot: 1, Link: "10.0.0.2"}}}, true},
		{"hop with link only", PLC{IP: "10.0.0.1", Route: []Hop{{Port: 2, Link: "10.0.0.2"}}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestHandleDefaults(t *testing.T) {
	cfg := PLC{IP: "10.0.0.1"}
	p, err := cfg.Handle()
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if p.Port != 44818 {
		t.Errorf("Port = %d, want 44818", p.Port)
	}
	if p.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", p.Timeout)
	}
	if p.StringEncoding != "utf-8" {
		t.Errorf("StringEncoding = %q, want utf-8", p.StringEncoding)
	}

	cfg = PLC{
		IP:             "10.0.0.2",
		Port:           2222,
		ProcessorSlot:  4,
		SocketTimeout:  0.5,
		ConnectionSize: 504,
		Route:          []Hop{{Port: 1, Slot: 6}},
		StringEncoding: "iso-8859-1",
	}
	p, err = cfg.Handle()
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if p.Port != 2222 || p.ProcessorSlot != 4 || p.ConnectionSize != 504 {
		t.Errorf("handle fields mismatch: %+v", p)
	}
	if p.Timeout != 500*time.Millisecond {
		t.Errorf("Timeout = %v, want 500ms", p.Timeout)
	}
	if len(p.Route) != 1 || p.Route[0].Slot != 6 {
		t.Errorf("Route mismatch: %+v", p.Route)
	}
}
