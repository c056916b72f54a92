package gxserialdemux

import (
	"sync/atomic"
)

// Metrics contains atomic counters for both relay directions.
// Counters can be used as the value of a prometheus CounterFunc.
type Metrics struct {
	// BytesFromDevice is the number of bytes read from the serial device.
	BytesFromDevice atomic.Uint64
	// BytesForwarded is the number of device bytes written to the virtual port.
	BytesForwarded atomic.Uint64
	// BytesDisplayed is the number of device bytes printed locally.
	BytesDisplayed atomic.Uint64
	// BytesToDevice is the number of debugger bytes written to the device.
	BytesToDevice atomic.Uint64
	// PacketsForwarded is the number of complete packets forwarded.
	PacketsForwarded atomic.Uint64
	// AcksForwarded is the number of '+' and '-' bytes forwarded outside packets.
	AcksForwarded atomic.Uint64
	// ReadErrors counts non-timeout read failures in both directions.
	ReadErrors atomic.Uint64
	// WriteErrors counts write failures in both directions.
	WriteErrors atomic.Uint64
}

func (m *Metrics) reset() {
	m.BytesFromDevice.Store(0)
	m.BytesForwarded.Store(0)
	m.BytesDisplayed.Store(0)
	m.BytesToDevice.Store(0)
	m.PacketsForwarded.Store(0)
	m.AcksForwarded.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
}

func (m *Metrics) addBytesFromDevice(n int) {
	m.BytesFromDevice.Add(uint64(n))
}

func (m *Metrics) addBytesForwarded(n int) {
	m.BytesForwarded.Add(uint64(n))
}

func (m *Metrics) addBytesDisplayed(n int) {
	m.BytesDisplayed.Add(uint64(n))
}

func (m *Metrics) addBytesToDevice(n int) {
	m.BytesToDevice.Add(uint64(n))
}

func (m *Metrics) incPacketsForwarded() {
	m.PacketsForwarded.Add(1)
}

func (m *Metrics) incAcksForwarded() {
	m.AcksForwarded.Add(1)
}

func (m *Metrics) incReadErrors() {
	m.ReadErrors.Add(1)
}

func (m *Metrics) incWriteErrors() {
	m.WriteErrors.Add(1)
}
