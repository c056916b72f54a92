package gxserialdemux

import (
	"bytes"
	"testing"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewGXSerialDemux(t *testing.T) {
	g := NewGXSerialDemux(validSettings())
	assert.False(t, g.IsOpen())
	assert.Empty(t, g.EndpointName())
	assert.Equal(t, "/dev/ttyUSB0", g.GetName())
	assert.Equal(t, "SerialDemux", g.GetMediaType())
	assert.NoError(t, g.Validate())
	assert.NoError(t, g.Close(), "closing a closed demux is a no-op")
}

func TestGXSerialDemux_ValidateLocalized(t *testing.T) {
	g := NewGXSerialDemux(DefaultSettings())
	err := g.Validate()
	require.Error(t, err)
	assert.Equal(t, "No serial port selected. Please select a serial port.", err.Error())

	g.Localize(language.Finnish)
	err = g.Validate()
	require.Error(t, err)
	assert.Equal(t, "Sarjaporttia ei ole valittu. Valitse sarjaportti.", err.Error())
}

func TestGXSerialDemux_OpenRejectsInvalidSettings(t *testing.T) {
	s := validSettings()
	s.DataBits = 12
	g := NewGXSerialDemux(s)
	err := g.Open()
	assert.ErrorIs(t, err, gxcommon.ErrInvalidArgument)
	assert.False(t, g.IsOpen())
}

func TestGXSerialDemux_SettingsString(t *testing.T) {
	s := validSettings()
	s.Port = "/dev/tty<1>"
	s.ReadTimeout = 250 * time.Millisecond
	g := NewGXSerialDemux(s)

	settings := g.GetSettings()
	assert.Contains(t, settings, "<Port>/dev/tty&lt;1&gt;</Port>\n")
	assert.Contains(t, settings, "<Bps>115200</Bps>\n")
	assert.Contains(t, settings, "<ByteSize>8</ByteSize>\n")
	assert.Contains(t, settings, "<ReadTimeout>250</ReadTimeout>\n")

	other := NewGXSerialDemux(DefaultSettings())
	require.NoError(t, other.ParseSettings("<Port>/dev/ttyS3</Port><Bps>9600</Bps><ByteSize>7</ByteSize><ReadTimeout>40</ReadTimeout><Unknown>1</Unknown>"))
	got := other.Settings()
	assert.Equal(t, "/dev/ttyS3", got.Port)
	assert.Equal(t, gxcommon.BaudRate(9600), got.BaudRate)
	assert.Equal(t, 7, got.DataBits)
	assert.Equal(t, 40*time.Millisecond, got.ReadTimeout)

	assert.NoError(t, other.ParseSettings("  "))
	assert.Error(t, other.ParseSettings("<ByteSize>eight</ByteSize>"))
	assert.Error(t, other.ParseSettings("<ReadTimeout>later</ReadTimeout>"))
}

func TestGXSerialDemux_Trace(t *testing.T) {
	g := NewGXSerialDemux(validSettings())
	var got []gxcommon.TraceEventArgs
	g.SetOnTrace(func(_ *GXSerialDemux, e gxcommon.TraceEventArgs) {
		got = append(got, e)
	})

	// Nothing passes the default trace level.
	g.tracef(true, gxcommon.TraceTypesError, "RX: %s", "x")
	assert.Empty(t, got)

	require.NoError(t, g.SetTrace(gxcommon.TraceLevel(gxcommon.TraceTypesReceived)))
	g.tracef(true, gxcommon.TraceTypesReceived, "RX: %s", []byte("$g#67"))
	assert.Len(t, got, 1)
}

func TestGXSerialDemux_ResetByteCounters(t *testing.T) {
	g := NewGXSerialDemux(validSettings())
	g.metrics.addBytesFromDevice(10)
	g.metrics.addBytesToDevice(4)
	g.metrics.incPacketsForwarded()
	assert.Equal(t, uint64(10), g.GetBytesReceived())
	assert.Equal(t, uint64(4), g.GetBytesSent())

	g.ResetByteCounters()
	assert.Zero(t, g.GetBytesReceived())
	assert.Zero(t, g.GetBytesSent())
	assert.Zero(t, g.Metrics().PacketsForwarded.Load())
}

func TestGXSerialDemux_SetOutput(t *testing.T) {
	g := NewGXSerialDemux(validSettings())
	var buf bytes.Buffer
	g.SetOutput(&buf)
	g.mu.RLock()
	defer g.mu.RUnlock()
	assert.Same(t, &buf, g.text)
}
