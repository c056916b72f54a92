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

// PacketTrailerLength is the number of bytes that close a remote protocol
// packet: the '#' terminator followed by two checksum characters. It is a
// structural assumption about the wire format; the checksum itself is not
// validated.
const PacketTrailerLength = 3

const (
	packetStart = '$'
	packetEnd   = '#'
	ack         = '+'
	nak         = '-'
)

// Routing tells where a byte read from the device is delivered.
type Routing int

const (
	// RoutingDisplay prints the byte on the local console.
	RoutingDisplay Routing = iota
	// RoutingForward writes the byte to the virtual serial port.
	RoutingForward
)

// String implements fmt.Stringer.
func (r Routing) String() string {
	if r == RoutingForward {
		return "Forward"
	}
	return "Display"
}

// PacketState is the position of the classifier relative to a packet.
type PacketState int

const (
	// Idle is outside of any packet.
	Idle PacketState = iota
	// InPacket has seen '$' but not yet the '#' terminator.
	InPacket
	// Trailing has seen the terminator and is consuming the checksum.
	Trailing
)

// String implements fmt.Stringer.
func (s PacketState) String() string {
	switch s {
	case InPacket:
		return "InPacket"
	case Trailing:
		return "Trailing"
	}
	return "Idle"
}

// ClassifierState is the full classifier state. Remaining is only used
// while State is Trailing and holds the number of trailer bytes that are
// still forwarded before returning to Idle.
type ClassifierState struct {
	State     PacketState
	Remaining int
}

// Classify returns the next state and the routing of b.
// The terminator counts as the first byte of the trailer, so after '#'
// PacketTrailerLength-1 bytes remain. Any byte received while trailing,
// '#' and '$' included, is a plain trailer byte.
func Classify(s ClassifierState, b byte) (ClassifierState, Routing) {
	switch s.State {
	case InPacket:
		if b == packetEnd {
			return ClassifierState{State: Trailing, Remaining: PacketTrailerLength - 1}, RoutingForward
		}
		return s, RoutingForward
	case Trailing:
		if s.Remaining > 1 {
			return ClassifierState{State: Trailing, Remaining: s.Remaining - 1}, RoutingForward
		}
		return ClassifierState{State: Idle}, RoutingForward
	}
	switch b {
	case packetStart:
		return ClassifierState{State: InPacket}, RoutingForward
	case ack, nak:
		return ClassifierState{State: Idle}, RoutingForward
	}
	return ClassifierState{State: Idle}, RoutingDisplay
}

// Classifier tracks packet boundaries in the byte stream read from the
// device. The zero value is Idle and ready for use. It is not safe for
// concurrent use; the device relay owns its classifier.
type Classifier struct {
	state ClassifierState
}

// Classify advances the classifier with b and returns its routing.
func (c *Classifier) Classify(b byte) Routing {
	var r Routing
	c.state, r = Classify(c.state, b)
	return r
}

// State returns the current state.
func (c *Classifier) State() ClassifierState {
	return c.state
}
