// Package config handles YAML persistence of PLC handle configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"taglink/logix"
)

// Hop is one hop of an explicit CIP route. Slot and Link are mutually
// exclusive; a Link hop carries an IP address or named link.
type Hop struct {
	Port byte   `yaml:"port"`
	Slot byte   `yaml:"slot,omitempty"`
	Link string `yaml:"link,omitempty"`
}

// PLC holds the full configuration of one controller handle.
type PLC struct {
	Name           string  `yaml:"name,omitempty"`
	IP             string  `yaml:"ip"`
	Port           uint16  `yaml:"port,omitempty"`            // default 44818
	ProcessorSlot  byte    `yaml:"processor_slot,omitempty"`  // default 0
	SocketTimeout  float64 `yaml:"socket_timeout,omitempty"`  // seconds, default 5.0
	Micro800       bool    `yaml:"micro800,omitempty"`
	Route          []Hop   `yaml:"route,omitempty"`
	ConnectionSize uint16  `yaml:"connection_size,omitempty"` // 0 = auto-negotiate
	StringEncoding string  `yaml:"string_encoding,omitempty"` // default utf-8
}

// Config is the top-level file layout.
type Config struct {
	PLCs []PLC `yaml:"plcs"`
}

// Validate checks one PLC entry for obvious mistakes.
func (c *PLC) Validate() error {
	if c.IP == "" {
		return fmt.Errorf("Validate: plc %q has no ip", c.Name)
	}
	if c.SocketTimeout < 0 {
		return fmt.Errorf("Validate: plc %q has negative socket_timeout", c.Name)
	}
	for i, hop := range c.Route {
		if hop.Slot != 0 && hop.Link != "" {
			return fmt.Errorf("Validate: plc %q route hop %d sets both slot and link", c.Name, i)
		}
	}
	return nil
}

// Handle builds a ready-to-use logix handle from the configuration.
func (c *PLC) Handle() (*logix.PLC, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	p := logix.NewPLC(c.IP)
	if c.Port != 0 {
		p.Port = c.Port
	}
	p.ProcessorSlot = c.ProcessorSlot
	if c.SocketTimeout > 0 {
		p.Timeout = time.Duration(c.SocketTimeout * float64(time.Second))
	}
	p.Micro800 = c.Micro800
	for _, hop := range c.Route {
		p.Route = append(p.Route, logix.RouteHop{Port: hop.Port, Slot: hop.Slot, Link: hop.Link})
	}
	p.ConnectionSize = c.ConnectionSize
	if c.StringEncoding != "" {
		p.StringEncoding = c.StringEncoding
	}
	return p, nil
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	for i := range cfg.PLCs {
		if err := cfg.PLCs[i].Validate(); err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
	}
	return &cfg, nil
}

// Save writes the configuration back to disk.
func (cfg *Config) Save(path string) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}
