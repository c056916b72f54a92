// Package gxserialdemux shares one serial line between a GDB remote stub
// and the console output of the target.
//
// A GXSerialDemux opens the physical serial device and creates a virtual
// serial port (a pseudo-terminal) for the debugger. Two relays then run
// concurrently:
//
//   - device -> endpoint: every byte read from the device is classified.
//     Remote protocol packets ($...#xx) and acknowledgements (+, -) are
//     written to the virtual serial port, everything else to the text
//     output (os.Stdout by default).
//   - endpoint -> device: bytes written by the debugger are copied to the
//     device unchanged.
//
// # Classification
//
// Classifier is a three state machine: Idle, InPacket and Trailing. A '$'
// in Idle starts a packet, '#' inside a packet starts the trailer, and the
// trailer ends after the two checksum characters. '+' and '-' in Idle are
// forwarded on their own. The checksum is not verified. The state is kept
// between reads, so a packet split over several reads is still routed as
// one.
//
// # Construction
//
//	s := gxserialdemux.DefaultSettings()
//	s.Port = "/dev/ttyUSB0"
//	s.BaudRate = 115200
//	media := gxserialdemux.NewGXSerialDemux(s)
//
//	media.SetOnError(func(m *gxserialdemux.GXSerialDemux, err error) {
//	    // err is a *RelayError naming the direction
//	})
//	if err := media.Open(); err != nil {
//	    // handle open error
//	}
//	defer media.Close()
//	fmt.Println("GDB should connect to", media.EndpointName())
//
//	// Run blocks until ctx is cancelled.
//	_ = media.Run(ctx)
//
// # Errors and timeouts
//
// Reads wait at most Settings.ReadTimeout. A timeout is not an error; the
// relay reads again. Other read and write failures are reported to the
// error handler and the relay keeps going after a pause of one read
// timeout. A failed write drops the bytes it carried.
//
// Pseudo-terminals are available on Linux and macOS. On other systems Open
// fails with ErrUnsupported.
package gxserialdemux
