// ABOUTME: Reads the desk phone's Do-Not-Disturb flag from the MicroSIP ini file.
// ABOUTME: Handles UTF-16 and UTF-8 with or without BOM and Windows-1251; defaults to "1".

// Package dnd reads the local Do-Not-Disturb flag for the agent.
package dnd

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Default is reported when the flag cannot be read.
const Default = "1"

const key = "DND="

// DefaultPath is MicroSIP's settings file under the user's roaming
// config directory (%APPDATA% on Windows).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join("MicroSIP", "microsip.ini")
	}
	return filepath.Join(dir, "MicroSIP", "microsip.ini")
}

// Probe reads the DND flag from an ini file on every call.
type Probe struct {
	path   string
	logger *slog.Logger
}

// NewProbe creates a Probe for path, or DefaultPath when path is empty.
func NewProbe(path string, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = DefaultPath()
	}
	return &Probe{path: path, logger: logger.With("component", "dnd")}
}

// Path is the file being read.
func (p *Probe) Path() string {
	return p.path
}

// Read returns "0" or "1". Any failure yields Default.
func (p *Probe) Read() string {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Debug("settings file not found", "path", p.path)
		} else {
			p.logger.Warn("reading settings file", "path", p.path, "error", err)
		}
		return Default
	}

	value, ok := Parse(raw)
	if !ok {
		p.logger.Debug("dnd flag not found", "path", p.path)
		return Default
	}
	return value
}

// Parse extracts the DND flag from raw ini contents.
func Parse(raw []byte) (string, bool) {
	if text, ok := decode(raw); ok {
		if v, found := scanLines(text); found {
			return v, true
		}
	}
	return scanBytes(raw)
}

func decode(raw []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xff, 0xfe}),
		bytes.HasPrefix(raw, []byte{0xfe, 0xff}),
		bytes.HasPrefix(raw, []byte{0xef, 0xbb, 0xbf}):
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
		if err != nil {
			return "", false
		}
		return string(out), true

	case looksUTF16LE(raw):
		out, _, err := transform.Bytes(unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder(), raw)
		if err != nil {
			return "", false
		}
		return string(out), true

	case utf8.Valid(raw):
		return string(raw), true

	default:
		out, _, err := transform.Bytes(charmap.Windows1251.NewDecoder(), raw)
		if err != nil {
			return "", false
		}
		return string(out), true
	}
}

// looksUTF16LE spots BOM-less UTF-16LE ASCII text: every odd byte is zero.
func looksUTF16LE(raw []byte) bool {
	if len(raw) < 4 || len(raw)%2 != 0 {
		return false
	}
	zeros := 0
	for i := 1; i < len(raw); i += 2 {
		if raw[i] == 0 {
			zeros++
		}
	}
	return zeros*10 >= (len(raw)/2)*9
}

func scanLines(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, key)
		if !ok {
			continue
		}
		value, _, _ := strings.Cut(rest, "=")
		value = strings.TrimSpace(value)
		if value == "0" || value == "1" {
			return value, true
		}
	}
	return "", false
}

func scanBytes(raw []byte) (string, bool) {
	idx := bytes.Index(raw, []byte(key))
	if idx < 0 || idx+len(key) >= len(raw) {
		return "", false
	}
	switch raw[idx+len(key)] {
	case '0':
		return "0", true
	case '1':
		return "1", true
	}
	return "", false
}
