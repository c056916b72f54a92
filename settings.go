package gxserialdemux

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Gurux/gxcommon-go"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDataBits is the data bit count used when none is configured.
	DefaultDataBits = 8
	// DefaultReadTimeout bounds how long a relay blocks in a single read.
	DefaultReadTimeout = 100 * time.Millisecond
)

// Settings describes the serial device the demux opens.
type Settings struct {
	// Port is the serial device path, for example /dev/ttyUSB0.
	Port     string
	BaudRate gxcommon.BaudRate
	DataBits int
	Parity   gxcommon.Parity
	StopBits gxcommon.StopBits
	// ReadTimeout bounds a blocking read on every handle. Expiry is
	// reported as ErrTimeout and the relays retry.
	ReadTimeout time.Duration
}

// DefaultSettings returns 8N1 settings with the default read timeout and
// no port or baud rate.
func DefaultSettings() Settings {
	return Settings{
		DataBits:    DefaultDataBits,
		Parity:      gxcommon.ParityNone,
		StopBits:    gxcommon.StopBitsOne,
		ReadTimeout: DefaultReadTimeout,
	}
}

// Validate checks the settings before the device is opened.
func (s *Settings) Validate() error {
	if s.Port == "" {
		return fmt.Errorf("%w: no serial port selected", gxcommon.ErrInvalidArgument)
	}
	if s.BaudRate <= 0 {
		return fmt.Errorf("%w: invalid baud rate %d", gxcommon.ErrInvalidArgument, s.BaudRate)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("%w: invalid data bits %d (must be 5..8)", gxcommon.ErrInvalidArgument, s.DataBits)
	}
	if s.StopBits != gxcommon.StopBitsOne && s.StopBits != gxcommon.StopBitsTwo {
		return fmt.Errorf("%w: invalid stop bits %d", gxcommon.ErrInvalidArgument, s.StopBits)
	}
	if s.ReadTimeout <= 0 {
		return fmt.Errorf("%w: read timeout must be positive", gxcommon.ErrInvalidArgument)
	}
	return nil
}

// ParseBaudRate parses a positive decimal baud rate.
func ParseBaudRate(value string) (gxcommon.BaudRate, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid baud rate %q: %w", value, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid baud rate %q: must be positive", value)
	}
	return gxcommon.BaudRate(n), nil
}

// StopBitsFromInt maps 1 and 2 to the matching stop bit setting.
func StopBitsFromInt(n int) (gxcommon.StopBits, error) {
	switch n {
	case 1:
		return gxcommon.StopBitsOne, nil
	case 2:
		return gxcommon.StopBitsTwo, nil
	}
	return 0, fmt.Errorf("%w: invalid stop bits %d (use 1 or 2)", gxcommon.ErrInvalidArgument, n)
}

// File is the layout of the YAML configuration file. Zero values leave
// the corresponding setting untouched.
//
//	port: /dev/ttyUSB0
//	baud_rate: 115200
//	data_bits: 8
//	parity: None
//	stop_bits: 1
//	read_timeout: 100ms
//	trace: Verbose
//	language: en-US
type File struct {
	Port        string `yaml:"port"`
	BaudRate    int    `yaml:"baud_rate"`
	DataBits    int    `yaml:"data_bits"`
	Parity      string `yaml:"parity"`
	StopBits    int    `yaml:"stop_bits"`
	ReadTimeout string `yaml:"read_timeout"`
	Trace       string `yaml:"trace"`
	Language    string `yaml:"language"`
}

// LoadFile reads a YAML configuration file. Unknown keys are rejected.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var ret File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&ret); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &ret, nil
}

// Apply copies the values set in the file over s.
func (f *File) Apply(s *Settings) error {
	if f.Port != "" {
		s.Port = f.Port
	}
	if f.BaudRate != 0 {
		if f.BaudRate < 0 {
			return fmt.Errorf("%w: invalid baud rate %d", gxcommon.ErrInvalidArgument, f.BaudRate)
		}
		s.BaudRate = gxcommon.BaudRate(f.BaudRate)
	}
	if f.DataBits != 0 {
		s.DataBits = f.DataBits
	}
	if f.Parity != "" {
		p, err := gxcommon.ParityParse(f.Parity)
		if err != nil {
			return fmt.Errorf("invalid parity %q: %w", f.Parity, err)
		}
		s.Parity = p
	}
	if f.StopBits != 0 {
		sb, err := StopBitsFromInt(f.StopBits)
		if err != nil {
			return err
		}
		s.StopBits = sb
	}
	if f.ReadTimeout != "" {
		d, err := time.ParseDuration(f.ReadTimeout)
		if err != nil {
			return fmt.Errorf("invalid read timeout %q: %w", f.ReadTimeout, err)
		}
		s.ReadTimeout = d
	}
	return nil
}
