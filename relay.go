package gxserialdemux

import (
	"context"
	"io"
	"time"

	"github.com/Gurux/gxcommon-go"
)

// relayBufferSize is the largest chunk read at once. Classification is
// still done one byte at a time.
const relayBufferSize = 256

// deviceToEndpoint reads from the device, forwards packet bytes to the
// virtual port and prints everything else to text. It returns when ctx is
// done.
func (g *GXSerialDemux) deviceToEndpoint(ctx context.Context, device io.Reader, endpoint, text io.Writer) {
	var (
		c      Classifier
		packet []byte
	)
	buf := make([]byte, relayBufferSize)
	for ctx.Err() == nil {
		n, err := device.Read(buf)
		if n > 0 {
			g.metrics.addBytesFromDevice(n)
			packet = g.route(ctx, &c, buf[:n], endpoint, text, packet)
		}
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			g.metrics.incReadErrors()
			g.relayFailed(DeviceToEndpoint, err)
			g.pause(ctx)
		}
	}
}

// route classifies data and writes it in runs of equal routing so the
// order across both sinks matches the device order. While received data
// is traced, packet collects the forwarded bytes not traced yet and is
// returned for the next call. It never holds more than relayBufferSize
// bytes.
func (g *GXSerialDemux) route(ctx context.Context, c *Classifier, data []byte, endpoint, text io.Writer, packet []byte) []byte {
	tracing := g.traces(gxcommon.TraceTypesReceived)
	if !tracing {
		packet = packet[:0]
	}
	start := 0
	current := RoutingDisplay
	for i, b := range data {
		prev := c.State().State
		r := c.Classify(b)
		if i > start && r != current {
			g.write(ctx, current, data[start:i], endpoint, text)
			start = i
		}
		current = r
		if r != RoutingForward {
			continue
		}
		if tracing {
			packet = append(packet, b)
		}
		done := c.State().State == Idle
		if done {
			if prev == Idle {
				g.metrics.incAcksForwarded()
			} else {
				g.metrics.incPacketsForwarded()
			}
		}
		if tracing && (done || len(packet) >= relayBufferSize) {
			g.tracef(true, gxcommon.TraceTypesReceived, "RX: %s", packet)
			packet = packet[:0]
		}
	}
	if start < len(data) {
		g.write(ctx, current, data[start:], endpoint, text)
	}
	return packet
}

// write delivers one run of equally routed bytes. A failed write drops
// the rest of the run.
func (g *GXSerialDemux) write(ctx context.Context, r Routing, data []byte, endpoint, text io.Writer) {
	w := text
	if r == RoutingForward {
		w = endpoint
	}
	n, err := writeAll(ctx, w, data)
	if r == RoutingForward {
		g.metrics.addBytesForwarded(n)
	} else {
		g.metrics.addBytesDisplayed(n)
	}
	if err != nil && ctx.Err() == nil {
		g.metrics.incWriteErrors()
		g.relayFailed(DeviceToEndpoint, err)
	}
}

// writeAll writes data to w, retrying after timeouts until ctx is done.
func writeAll(ctx context.Context, w io.Writer, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		written += n
		if err == nil {
			continue
		}
		if !IsTimeout(err) || ctx.Err() != nil {
			return written, err
		}
	}
	return written, nil
}

// endpointToDevice copies everything the debugger writes to the device
// unmodified. It returns when ctx is done.
func (g *GXSerialDemux) endpointToDevice(ctx context.Context, endpoint io.Reader, device io.Writer) {
	buf := make([]byte, relayBufferSize)
	for ctx.Err() == nil {
		n, err := endpoint.Read(buf)
		if n > 0 {
			g.tracef(true, gxcommon.TraceTypesSent, "TX: %s", buf[:n])
			written, werr := writeAll(ctx, device, buf[:n])
			g.metrics.addBytesToDevice(written)
			if werr != nil && ctx.Err() == nil {
				g.metrics.incWriteErrors()
				g.relayFailed(EndpointToDevice, werr)
			}
		}
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			g.metrics.incReadErrors()
			g.relayFailed(EndpointToDevice, err)
			g.pause(ctx)
		}
	}
}

func (g *GXSerialDemux) relayFailed(d Direction, err error) {
	e := &RelayError{Direction: d, Err: err}
	g.tracef(true, gxcommon.TraceTypesError, "%v", e)
	g.errorf(true, e)
}

// pause waits one read timeout after a failed read so a persistent fault,
// such as an unplugged device, does not spin.
func (g *GXSerialDemux) pause(ctx context.Context) {
	t := time.NewTimer(g.settings.ReadTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
