package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions_Positional(t *testing.T) {
	o, err := parseOptions([]string{"/dev/ttyUSB0", "115200"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", o.settings.Port)
	assert.Equal(t, gxcommon.BaudRate(115200), o.settings.BaudRate)
	assert.Equal(t, 8, o.settings.DataBits)
	assert.Equal(t, gxcommon.ParityNone, o.settings.Parity)
	assert.Equal(t, gxcommon.StopBitsOne, o.settings.StopBits)
}

func TestParseOptions_Flags(t *testing.T) {
	o, err := parseOptions([]string{
		"--data-bits", "7",
		"--parity", "Even",
		"--stop-bits", "2",
		"--read-timeout", "40ms",
		"-v",
		"/dev/ttyS1", "9600",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, o.settings.DataBits)
	assert.Equal(t, gxcommon.ParityEven, o.settings.Parity)
	assert.Equal(t, gxcommon.StopBitsTwo, o.settings.StopBits)
	assert.Equal(t, 40*time.Millisecond, o.settings.ReadTimeout)
	assert.True(t, o.verbose)
}

func TestParseOptions_Errors(t *testing.T) {
	tests := map[string][]string{
		"missing arguments":  {},
		"missing baud rate":  {"/dev/ttyUSB0"},
		"malformed baud":     {"/dev/ttyUSB0", "fast"},
		"too many arguments": {"/dev/ttyUSB0", "115200", "extra"},
		"unknown flag":       {"--bogus", "/dev/ttyUSB0", "115200"},
		"bad stop bits":      {"--stop-bits", "3", "/dev/ttyUSB0", "115200"},
		"missing config":     {"--config", "/does/not/exist.yaml"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseOptions(args)
			assert.Error(t, err)
		})
	}
}

func TestParseOptions_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: /dev/ttyACM0
baud_rate: 921600
data_bits: 7
read_timeout: 250ms
trace: Verbose
language: sv
`), 0o600))

	o, err := parseOptions([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", o.settings.Port)
	assert.Equal(t, gxcommon.BaudRate(921600), o.settings.BaudRate)
	assert.Equal(t, 7, o.settings.DataBits)
	assert.Equal(t, 250*time.Millisecond, o.settings.ReadTimeout)
	assert.Equal(t, "Verbose", o.trace)
	assert.Equal(t, "sv", o.lang)

	// Flags and positional arguments win over the file.
	o, err = parseOptions([]string{"--config", path, "--data-bits", "8", "--lang", "de", "/dev/ttyUSB1", "57600"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", o.settings.Port)
	assert.Equal(t, gxcommon.BaudRate(57600), o.settings.BaudRate)
	assert.Equal(t, 8, o.settings.DataBits)
	assert.Equal(t, 250*time.Millisecond, o.settings.ReadTimeout)
	assert.Equal(t, "de", o.lang)
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--help"}, &out))
	assert.Contains(t, out.String(), "gxserialdemux [flags] <device> <baud rate>")
	assert.Contains(t, out.String(), "--read-timeout")
}

func TestRun_MalformedBaudRate(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"/dev/ttyUSB0", "fast"}, &out)
	assert.Error(t, err)
	assert.NotContains(t, out.String(), "Virtual serial port created")
}

func TestRun_MissingDevice(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"/dev/does-not-exist", "115200"}, &out)
	assert.Error(t, err)
	assert.NotContains(t, out.String(), "Virtual serial port created")
}

func TestNewLogger(t *testing.T) {
	t.Setenv("ENV", "")
	var out bytes.Buffer
	logger := newLogger(&out, false)
	logger.Debug("hidden")
	logger.Info("relay stopped", "bytes_from_device", 13)
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "msg=\"relay stopped\"")
	assert.Contains(t, out.String(), "bytes_from_device=13")

	out.Reset()
	newLogger(&out, true).Debug("shown")
	assert.Contains(t, out.String(), "msg=shown")
}
