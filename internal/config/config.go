// Package config loads the musicviz configuration file. Every field is
// optional: the Get* accessors supply defaults for anything left unset, so
// an empty file (or no file) is a valid configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/musicviz/musicviz/internal/gesture"
	"github.com/musicviz/musicviz/internal/hostfeed"
	"github.com/musicviz/musicviz/internal/keycode"
	"github.com/musicviz/musicviz/internal/serialmux"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults for unset fields.
const (
	DefaultListen       = "localhost:8080"
	DefaultDBPath       = "musicviz.db"
	DefaultKeyInput     = "-"
	DefaultStaleAfter   = 500 * time.Millisecond
	DefaultSendInterval = 33 * time.Millisecond
	DefaultPalette      = "Cyberpunk"
	DefaultMIDIChannel  = 0
)

// BindingConfig is the file form of a gesture binding: class names mapped
// to QMK-style combo strings, e.g. {"double_tap": "LCTL(LGUI(KC_Q))"}.
type BindingConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Key     string            `json:"key" yaml:"key"`
	Actions map[string]string `json:"actions" yaml:"actions"`
}

// MIDIConfig enables the MIDI emitter when Port is set. Notes pins combos
// to note numbers, e.g. {"LCTL(LGUI(KC_Q))": 60}; other combos play their
// key usage.
type MIDIConfig struct {
	Port    string         `json:"port" yaml:"port"`
	Channel *int           `json:"channel,omitempty" yaml:"channel,omitempty"`
	Notes   map[string]int `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Config is the root configuration.
type Config struct {
	// Report link
	SerialPort *string                `json:"serial_port,omitempty" yaml:"serial_port,omitempty"` // empty disables the link
	Serial     *serialmux.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
	StaleAfter *string                `json:"stale_after,omitempty" yaml:"stale_after,omitempty"` // duration string like "500ms"

	// Gestures
	KeyInput    *string         `json:"key_input,omitempty" yaml:"key_input,omitempty"` // "-" for stdin, or a serial port path
	TappingTerm *string         `json:"tapping_term,omitempty" yaml:"tapping_term,omitempty"`
	SettleDelay *string         `json:"settle_delay,omitempty" yaml:"settle_delay,omitempty"`
	Bindings    []BindingConfig `json:"bindings,omitempty" yaml:"bindings,omitempty"`
	HIDOutput   *string         `json:"hid_output,omitempty" yaml:"hid_output,omitempty"` // e.g. /dev/hidg0
	MIDI        *MIDIConfig     `json:"midi,omitempty" yaml:"midi,omitempty"`

	// Services
	Listen  *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	DBPath  *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Capture *bool   `json:"capture,omitempty" yaml:"capture,omitempty"`
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	// Host sender
	SendInterval *string `json:"send_interval,omitempty" yaml:"send_interval,omitempty"`
	Palette      *string `json:"palette,omitempty" yaml:"palette,omitempty"`
}

// Load reads a .json, .yaml or .yml configuration file and validates it.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	for name, d := range map[string]*string{
		"stale_after":   c.StaleAfter,
		"tapping_term":  c.TappingTerm,
		"settle_delay":  c.SettleDelay,
		"send_interval": c.SendInterval,
	} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, v)
		}
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	if c.MIDI != nil && c.MIDI.Channel != nil {
		if ch := *c.MIDI.Channel; ch < 0 || ch > 15 {
			return fmt.Errorf("midi channel must be between 0 and 15, got %d", ch)
		}
	}

	if _, err := c.GetMIDINotes(); err != nil {
		return err
	}

	if c.Palette != nil && *c.Palette != "" {
		if _, err := hostfeed.LookupPalette(*c.Palette); err != nil {
			return err
		}
	}

	if _, err := c.GetBindings(); err != nil {
		return err
	}
	return nil
}

func duration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func str(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

// GetSerialPort returns the report link path, or "" when disabled.
func (c *Config) GetSerialPort() string { return str(c.SerialPort, "") }

// GetSerialOptions returns the normalised serial options.
func (c *Config) GetSerialOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	if n, err := opts.Normalise(); err == nil {
		return n
	}
	n, _ := serialmux.PortOptions{}.Normalise()
	return n
}

func (c *Config) GetStaleAfter() time.Duration {
	return duration(c.StaleAfter, DefaultStaleAfter)
}

func (c *Config) GetKeyInput() string { return str(c.KeyInput, DefaultKeyInput) }

func (c *Config) GetTappingTerm() time.Duration {
	return duration(c.TappingTerm, gesture.DefaultTappingTerm)
}

func (c *Config) GetSettleDelay() time.Duration {
	return duration(c.SettleDelay, gesture.DefaultSettleDelay)
}

func (c *Config) GetHIDOutput() string { return str(c.HIDOutput, "") }

// GetMIDI returns the MIDI port ("" when disabled) and channel.
func (c *Config) GetMIDI() (string, uint8) {
	if c.MIDI == nil {
		return "", DefaultMIDIChannel
	}
	ch := DefaultMIDIChannel
	if c.MIDI.Channel != nil {
		ch = *c.MIDI.Channel
	}
	return c.MIDI.Port, uint8(ch)
}

// GetMIDINotes parses the combo-to-note mapping.
func (c *Config) GetMIDINotes() (map[keycode.Combo]uint8, error) {
	notes := map[keycode.Combo]uint8{}
	if c.MIDI == nil {
		return notes, nil
	}
	for combo, note := range c.MIDI.Notes {
		parsed, err := keycode.Parse(combo)
		if err != nil {
			return nil, fmt.Errorf("midi note for %q: %w", combo, err)
		}
		if note < 0 || note > 127 {
			return nil, fmt.Errorf("midi note for %q must be between 0 and 127, got %d", combo, note)
		}
		notes[parsed] = uint8(note)
	}
	return notes, nil
}

func (c *Config) GetListen() string { return str(c.Listen, DefaultListen) }

func (c *Config) GetDBPath() string { return str(c.DBPath, DefaultDBPath) }

// GetCapture reports whether received reports are written to the database.
func (c *Config) GetCapture() bool {
	if c.Capture == nil {
		return true
	}
	return *c.Capture
}

func (c *Config) GetVerbose() bool {
	return c.Verbose != nil && *c.Verbose
}

func (c *Config) GetSendInterval() time.Duration {
	return duration(c.SendInterval, DefaultSendInterval)
}

func (c *Config) GetPalette() string { return str(c.Palette, DefaultPalette) }

// GetBindings converts the configured bindings, or returns the default
// four-key keymap when none are configured.
func (c *Config) GetBindings() ([]gesture.Binding, error) {
	if len(c.Bindings) == 0 {
		return gesture.DefaultBindings(), nil
	}
	out := make([]gesture.Binding, 0, len(c.Bindings))
	names := make(map[string]bool, len(c.Bindings))
	keys := make(map[string]bool, len(c.Bindings))
	for i, b := range c.Bindings {
		if b.Name == "" {
			return nil, fmt.Errorf("binding %d: missing name", i)
		}
		key := b.Key
		if key == "" {
			key = b.Name
		}
		if names[b.Name] || keys[key] {
			return nil, fmt.Errorf("binding %q: %w", b.Name, gesture.ErrDuplicateBinding)
		}
		names[b.Name], keys[key] = true, true

		actions, err := gesture.ParseActions(b.Actions)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", b.Name, err)
		}
		out = append(out, gesture.Binding{Name: b.Name, Key: key, Actions: actions})
	}
	return out, nil
}
