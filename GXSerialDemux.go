package gxserialdemux

// --------------------------------------------------------------------------
//
//	Gurux Ltd
//
// Filename:        $HeadURL$
//
// Version:         $Revision$,
//
//	$Date$
//	$Author$
//
// # Copyright (c) Gurux Ltd
//
// ---------------------------------------------------------------------------
//
//	DESCRIPTION
//
// This file is a part of Gurux Device Framework.
//
// Gurux Device Framework is Open Source software; you can redistribute it
// and/or modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2 of the License.
// Gurux Device Framework is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU General Public License for more details.
//
// More information of Gurux products: https://www.gurux.org
//
// This code is licensed under the GNU General Public License v2.
// Full text may be retrieved at http://www.gnu.org/licenses/gpl-2.0.txt
// ---------------------------------------------------------------------------

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrorEventHandler is called when a relay reports an error.
type ErrorEventHandler func(d *GXSerialDemux, err error)

// TraceEventHandler is called for trace messages allowed by the trace level.
type TraceEventHandler func(d *GXSerialDemux, e gxcommon.TraceEventArgs)

// MediaStateHandler is called when the demux is opened or closed.
type MediaStateHandler func(d *GXSerialDemux, e gxcommon.MediaStateEventArgs)

type duplex struct {
	r io.ReadCloser
	w io.WriteCloser
}

// channels holds the split handles of the device and the virtual port.
type channels struct {
	endpointName string
	endpoint     duplex
	device       duplex
	// keep is the slave side of the virtual port.
	keep io.Closer
}

func (c *channels) close() error {
	var errs []error
	for _, cl := range []io.Closer{c.device.r, c.device.w, c.endpoint.r, c.endpoint.w, c.keep} {
		if cl != nil {
			errs = append(errs, cl.Close())
		}
	}
	return errors.Join(errs...)
}

// GXSerialDemux relays a serial device to a virtual serial port. Debug
// protocol packets read from the device go to the virtual port, all other
// bytes are printed locally. Everything written to the virtual port goes
// to the device as is.
type GXSerialDemux struct {
	settings Settings
	// The trace level specifies which types of trace messages are emitted.
	traceLevel gxcommon.TraceLevel
	mu         sync.RWMutex
	wg         sync.WaitGroup
	running    bool

	// Text output for bytes that are not part of a packet.
	text io.Writer

	metrics Metrics

	//Called when the Media state is changed.
	onState MediaStateHandler

	//Called when the Media is sending or receiving data.
	onTrace TraceEventHandler

	//Called when a relay fails.
	onErr ErrorEventHandler

	c *channels
	// Printer for localized messages.
	p *message.Printer
}

// NewGXSerialDemux creates a demux for the given device settings. Text is
// written to standard output until SetOutput is called.
func NewGXSerialDemux(settings Settings) *GXSerialDemux {
	g := &GXSerialDemux{settings: settings, text: os.Stdout}
	g.Localize(language.AmericanEnglish)
	return g
}

// GetPortNames returns the list of available serial ports.
func GetPortNames() ([]string, error) {
	return getPortNames()
}

// Settings returns a copy of the device settings.
func (g *GXSerialDemux) Settings() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings
}

// SetSettings replaces the device settings. Settings can't be changed
// while the demux is open.
func (g *GXSerialDemux) SetSettings(value Settings) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c != nil {
		return ErrAlreadyOpen
	}
	g.settings = value
	return nil
}

// SetOutput sets where non-packet bytes are written. The bytes are written
// as read from the device, without any character set conversion.
func (g *GXSerialDemux) SetOutput(w io.Writer) {
	g.mu.Lock()
	g.text = w
	g.mu.Unlock()
}

// EndpointName returns the path of the virtual serial port the debugger
// connects to, or an empty string when not open.
func (g *GXSerialDemux) EndpointName() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.c == nil {
		return ""
	}
	return g.c.endpointName
}

// Metrics returns the relay counters.
func (g *GXSerialDemux) Metrics() *Metrics {
	return &g.metrics
}

// String implements fmt.Stringer.
func (g *GXSerialDemux) String() string {
	s := g.Settings()
	return fmt.Sprintf("%s %d %d %d %d", s.Port, s.BaudRate, s.DataBits, s.StopBits, s.Parity)
}

// GetName returns the device name.
func (g *GXSerialDemux) GetName() string {
	return g.Settings().Port
}

// IsOpen returns true when the device and the virtual port are open.
func (g *GXSerialDemux) IsOpen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.c != nil
}

// GetMediaType returns the media type name.
func (g *GXSerialDemux) GetMediaType() string {
	return "SerialDemux"
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

// GetSettings returns the device settings as a Gurux settings string.
func (g *GXSerialDemux) GetSettings() string {
	s := g.Settings()
	var b strings.Builder
	if s.Port != "" {
		fmt.Fprintf(&b, "<Port>%s</Port>\n", xmlEscape(s.Port))
	}
	if s.BaudRate != 0 {
		fmt.Fprintf(&b, "<Bps>%d</Bps>\n", s.BaudRate)
	}
	if s.DataBits != 0 {
		fmt.Fprintf(&b, "<ByteSize>%d</ByteSize>\n", s.DataBits)
	}
	if s.StopBits != 0 {
		fmt.Fprintf(&b, "<StopBits>%d</StopBits>\n", s.StopBits)
	}
	if s.Parity != 0 {
		fmt.Fprintf(&b, "<Parity>%d</Parity>\n", s.Parity)
	}
	if s.ReadTimeout != 0 {
		fmt.Fprintf(&b, "<ReadTimeout>%d</ReadTimeout>\n", s.ReadTimeout.Milliseconds())
	}
	return b.String()
}

// ParseSettings updates the device settings from a Gurux settings string.
func (g *GXSerialDemux) ParseSettings(value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	s := g.Settings()
	dec := xml.NewDecoder(strings.NewReader("<root>" + value + "</root>"))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var v string
		switch se.Name.Local {
		case "Port", "Bps", "ByteSize", "StopBits", "Parity", "ReadTimeout":
			if err := dec.DecodeElement(&v, &se); err != nil {
				return err
			}
		default:
			continue
		}
		switch se.Name.Local {
		case "Port":
			s.Port = v
		case "Bps":
			s.BaudRate, err = gxcommon.BaudRateParse(v)
		case "ByteSize":
			s.DataBits, err = strconv.Atoi(v)
			if err != nil {
				err = fmt.Errorf("invalid ByteSize value: %w", err)
			}
		case "StopBits":
			s.StopBits, err = gxcommon.StopBitsParse(v)
		case "Parity":
			s.Parity, err = gxcommon.ParityParse(v)
		case "ReadTimeout":
			var ms int
			ms, err = strconv.Atoi(v)
			if err != nil {
				err = fmt.Errorf("invalid ReadTimeout value: %w", err)
			}
			s.ReadTimeout = time.Duration(ms) * time.Millisecond
		}
		if err != nil {
			return err
		}
	}
	return g.SetSettings(s)
}

// Validate checks the device settings.
func (g *GXSerialDemux) Validate() error {
	g.mu.RLock()
	s, p := g.settings, g.p
	g.mu.RUnlock()
	if s.Port == "" {
		return errors.New(p.Sprintf("msg.no_serial_port_selected"))
	}
	return s.Validate()
}

// GetTrace returns the trace level.
func (g *GXSerialDemux) GetTrace() gxcommon.TraceLevel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.traceLevel
}

// SetTrace sets the trace level.
func (g *GXSerialDemux) SetTrace(traceLevel gxcommon.TraceLevel) error {
	g.mu.Lock()
	g.traceLevel = traceLevel
	g.mu.Unlock()
	return nil
}

// GetBytesSent returns the number of bytes written to the device.
func (g *GXSerialDemux) GetBytesSent() uint64 {
	return g.metrics.BytesToDevice.Load()
}

// GetBytesReceived returns the number of bytes read from the device.
func (g *GXSerialDemux) GetBytesReceived() uint64 {
	return g.metrics.BytesFromDevice.Load()
}

// ResetByteCounters clears all counters.
func (g *GXSerialDemux) ResetByteCounters() {
	g.metrics.reset()
}

// SetOnError sets the relay error handler.
func (g *GXSerialDemux) SetOnError(value ErrorEventHandler) {
	g.mu.Lock()
	g.onErr = value
	g.mu.Unlock()
}

// SetOnMediaStateChange sets the state change handler.
func (g *GXSerialDemux) SetOnMediaStateChange(value MediaStateHandler) {
	g.mu.Lock()
	g.onState = value
	g.mu.Unlock()
}

// SetOnTrace sets the trace handler.
func (g *GXSerialDemux) SetOnTrace(value TraceEventHandler) {
	g.mu.Lock()
	g.onTrace = value
	g.mu.Unlock()
}

// Open creates the virtual serial port and opens the device.
func (g *GXSerialDemux) Open() error {
	if err := g.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c != nil {
		return nil
	}
	g.statef(false, gxcommon.MediaStateOpening)
	g.trace(false, gxcommon.TraceTypesInfo, g.p.Sprintf("msg.opening", g.settings.Port, int(g.settings.BaudRate)))
	c, err := openChannels(&g.settings)
	if err != nil {
		g.trace(false, gxcommon.TraceTypesError, g.p.Sprintf("msg.open_failed", g.settings.Port, err))
		g.errorf(false, err)
		return err
	}
	g.c = c
	g.trace(false, gxcommon.TraceTypesInfo, g.p.Sprintf("msg.endpoint_ready", c.endpointName))
	g.statef(false, gxcommon.MediaStateOpen)
	return nil
}

// Run relays both directions until ctx is done. The device relay is the
// primary one; Run returns after it stops and the endpoint relay has
// stopped too. Errors in either relay are reported through the error
// handler and never stop the relays.
func (g *GXSerialDemux) Run(ctx context.Context) error {
	g.mu.Lock()
	c, text := g.c, g.text
	if c == nil {
		g.mu.Unlock()
		return ErrNotOpen
	}
	if g.running {
		g.mu.Unlock()
		return ErrRunning
	}
	g.running = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()
	return g.run(ctx, c.device, c.endpoint, text)
}

func (g *GXSerialDemux) run(ctx context.Context, device, endpoint duplex, text io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.endpointToDevice(ctx, endpoint.r, device.w)
	}()
	go func() {
		defer g.wg.Done()
		defer close(done)
		g.deviceToEndpoint(ctx, device.r, endpoint.w, text)
	}()
	g.mu.RLock()
	p, port := g.p, g.settings.Port
	g.mu.RUnlock()
	g.trace(true, gxcommon.TraceTypesInfo, p.Sprintf("msg.relay_started", port))
	<-done
	cancel()
	g.wg.Wait()
	g.trace(true, gxcommon.TraceTypesInfo, p.Sprintf("msg.relay_stopped", port))
	return nil
}

func (g *GXSerialDemux) errorf(lock bool, err error) {
	var cb ErrorEventHandler
	if lock {
		g.mu.RLock()
		cb = g.onErr
		g.mu.RUnlock()
	} else {
		cb = g.onErr
	}
	if cb != nil {
		cb(g, err)
	}
}

func (g *GXSerialDemux) tracef(lock bool, traceType gxcommon.TraceTypes, fmtStr string, a ...any) {
	var cb TraceEventHandler
	trace := false
	if lock {
		g.mu.RLock()
		trace = !(int(g.traceLevel) < int(traceType))
		cb = g.onTrace
		g.mu.RUnlock()
	} else {
		trace = !(int(g.traceLevel) < int(traceType))
		cb = g.onTrace
	}
	if cb != nil && trace {
		p := gxcommon.NewTraceEventArgs(traceType, fmt.Sprintf(fmtStr, a...), "")
		cb(g, *p)
	}
}

// traces reports whether the trace level lets traceType through.
func (g *GXSerialDemux) traces(traceType gxcommon.TraceTypes) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !(int(g.traceLevel) < int(traceType)) && g.onTrace != nil
}

func (g *GXSerialDemux) trace(lock bool, traceType gxcommon.TraceTypes, message string) {
	g.tracef(lock, traceType, "%s", message)
}

func (g *GXSerialDemux) statef(lock bool, state gxcommon.MediaState) {
	var cb MediaStateHandler
	if lock {
		g.mu.RLock()
		cb = g.onState
		g.mu.RUnlock()
	} else {
		cb = g.onState
	}
	if cb != nil {
		cb(g, *gxcommon.NewMediaStateEventArgs(state))
	}
}

// Close releases the device and the virtual serial port. Call it after
// Run has returned.
func (g *GXSerialDemux) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c == nil {
		return nil
	}
	g.trace(false, gxcommon.TraceTypesInfo, g.p.Sprintf("msg.closing_connection", g.settings.Port))
	g.statef(false, gxcommon.MediaStateClosing)
	err := g.c.close()
	g.c = nil
	g.trace(false, gxcommon.TraceTypesInfo, g.p.Sprintf("msg.connection_closed", g.settings.Port))
	g.statef(false, gxcommon.MediaStateClosed)
	return err
}

//nolint:errcheck
func init() {
	// --- English (default) ---
	message.SetString(language.AmericanEnglish, "msg.closing_connection", "Closing connection to %s")
	message.SetString(language.AmericanEnglish, "msg.connection_closed", "Connection closed to %s")
	message.SetString(language.AmericanEnglish, "msg.opening", "Opening %s at %d baud")
	message.SetString(language.AmericanEnglish, "msg.open_failed", "open %s failed: %v")
	message.SetString(language.AmericanEnglish, "msg.endpoint_ready", "Virtual serial port %s created")
	message.SetString(language.AmericanEnglish, "msg.relay_started", "Relaying %s")
	message.SetString(language.AmericanEnglish, "msg.relay_stopped", "Relay stopped for %s")
	message.SetString(language.AmericanEnglish, "msg.no_serial_port_selected", "No serial port selected. Please select a serial port.")

	// --- German (de) ---
	message.SetString(language.German, "msg.closing_connection", "Verbindung zu %s: wird geschlossen")
	message.SetString(language.German, "msg.connection_closed", "Verbindung zu %s: wurde geschlossen")
	message.SetString(language.German, "msg.opening", "%s wird mit %d Baud geöffnet")
	message.SetString(language.German, "msg.open_failed", "Öffnen von %s fehlgeschlagen: %v")
	message.SetString(language.German, "msg.endpoint_ready", "Virtuelle serielle Schnittstelle %s erstellt")
	message.SetString(language.German, "msg.relay_started", "Weiterleitung für %s gestartet")
	message.SetString(language.German, "msg.relay_stopped", "Weiterleitung für %s beendet")
	message.SetString(language.German, "msg.no_serial_port_selected", "Kein serieller Port ausgewählt. Bitte wählen Sie einen seriellen Port aus.")

	// --- Finnish (fi) ---
	message.SetString(language.Finnish, "msg.closing_connection", "Suljetaan yhteys kohteeseen %s:")
	message.SetString(language.Finnish, "msg.connection_closed", "Yhteys suljettu kohteeseen %s:")
	message.SetString(language.Finnish, "msg.opening", "Avataan %s nopeudella %d baud")
	message.SetString(language.Finnish, "msg.open_failed", "Kohteen %s avaaminen epäonnistui: %v")
	message.SetString(language.Finnish, "msg.endpoint_ready", "Virtuaalinen sarjaportti %s luotu")
	message.SetString(language.Finnish, "msg.relay_started", "Välitys käynnistetty: %s")
	message.SetString(language.Finnish, "msg.relay_stopped", "Välitys pysäytetty: %s")
	message.SetString(language.Finnish, "msg.no_serial_port_selected", "Sarjaporttia ei ole valittu. Valitse sarjaportti.")

	// --- Swedish (sv) ---
	message.SetString(language.Swedish, "msg.closing_connection", "Stänger anslutning till %s:")
	message.SetString(language.Swedish, "msg.connection_closed", "Anslutning stängd till %s:")
	message.SetString(language.Swedish, "msg.opening", "Öppnar %s med %d baud")
	message.SetString(language.Swedish, "msg.open_failed", "Öppning av %s misslyckades: %v")
	message.SetString(language.Swedish, "msg.endpoint_ready", "Virtuell seriell port %s skapad")
	message.SetString(language.Swedish, "msg.relay_started", "Vidarebefordrar %s")
	message.SetString(language.Swedish, "msg.relay_stopped", "Vidarebefordran stoppad för %s")
	message.SetString(language.Swedish, "msg.no_serial_port_selected", "Ingen seriell port vald. Välj en seriell port.")
}

// Localize messages for the specified language.
// No errors is returned if language is not supported.
func (g *GXSerialDemux) Localize(language language.Tag) {
	g.mu.Lock()
	g.p = message.NewPrinter(language)
	g.mu.Unlock()
}
