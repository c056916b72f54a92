package gxserialdemux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed runs data through a fresh classifier and splits it by routing.
func feed(t *testing.T, c *Classifier, data string) (forwarded, displayed []byte) {
	t.Helper()
	for i := 0; i < len(data); i++ {
		if c.Classify(data[i]) == RoutingForward {
			forwarded = append(forwarded, data[i])
		} else {
			displayed = append(displayed, data[i])
		}
	}
	return forwarded, displayed
}

func TestClassify_IdleAllBytes(t *testing.T) {
	for v := 0; v < 256; v++ {
		b := byte(v)
		next, r := Classify(ClassifierState{}, b)
		switch b {
		case '$':
			assert.Equal(t, RoutingForward, r)
			assert.Equal(t, ClassifierState{State: InPacket}, next)
		case '+', '-':
			assert.Equal(t, RoutingForward, r, "byte %q", b)
			assert.Equal(t, ClassifierState{State: Idle}, next)
		default:
			assert.Equal(t, RoutingDisplay, r, "byte %#x", b)
			assert.Equal(t, ClassifierState{State: Idle}, next)
		}
	}
}

func TestClassify_InPacketAllBytes(t *testing.T) {
	in := ClassifierState{State: InPacket}
	for v := 0; v < 256; v++ {
		b := byte(v)
		next, r := Classify(in, b)
		assert.Equal(t, RoutingForward, r, "byte %#x", b)
		if b == '#' {
			assert.Equal(t, ClassifierState{State: Trailing, Remaining: PacketTrailerLength - 1}, next)
		} else {
			assert.Equal(t, in, next, "byte %#x", b)
		}
	}
}

func TestClassify_TrailerEndsInIdle(t *testing.T) {
	for v := 0; v < 256; v++ {
		s, r := Classify(ClassifierState{State: InPacket}, '#')
		require.Equal(t, RoutingForward, r)
		// '#' is the first of PacketTrailerLength trailer bytes.
		for i := 1; i < PacketTrailerLength; i++ {
			require.Equal(t, Trailing, s.State)
			s, r = Classify(s, byte(v))
			assert.Equal(t, RoutingForward, r)
		}
		assert.Equal(t, ClassifierState{State: Idle}, s, "trailer byte %#x", v)
	}
}

func TestClassify_TrailingCountsDown(t *testing.T) {
	for v := 0; v < 256; v++ {
		s := ClassifierState{State: Trailing, Remaining: 3}
		for i := 0; i < 3; i++ {
			require.Equal(t, Trailing, s.State, "byte %#x step %d", v, i)
			var r Routing
			s, r = Classify(s, byte(v))
			assert.Equal(t, RoutingForward, r)
		}
		assert.Equal(t, ClassifierState{State: Idle}, s, "byte %#x", v)
	}
}

func TestClassify_TerminatorInsideTrailer(t *testing.T) {
	s, _ := Classify(ClassifierState{State: InPacket}, '#')
	s, r := Classify(s, '#')
	assert.Equal(t, RoutingForward, r)
	assert.Equal(t, ClassifierState{State: Trailing, Remaining: 1}, s)

	s, r = Classify(s, '$')
	assert.Equal(t, RoutingForward, r)
	assert.Equal(t, ClassifierState{State: Idle}, s)
}

func TestClassifier_Packet(t *testing.T) {
	var c Classifier
	forwarded, displayed := feed(t, &c, "$abc#xy")
	assert.Equal(t, []byte("$abc#xy"), forwarded)
	assert.Empty(t, displayed)
	assert.Equal(t, ClassifierState{State: Idle}, c.State())
}

func TestClassifier_Text(t *testing.T) {
	var c Classifier
	forwarded, displayed := feed(t, &c, "hello")
	assert.Empty(t, forwarded)
	assert.Equal(t, []byte("hello"), displayed)
	assert.Equal(t, Idle, c.State().State)
}

func TestClassifier_AcksBetweenText(t *testing.T) {
	var c Classifier
	forwarded, displayed := feed(t, &c, "ab+cd-ef")
	assert.Equal(t, []byte("+-"), forwarded)
	assert.Equal(t, []byte("abcdef"), displayed)
}

func TestClassifier_TextWithoutMarkers(t *testing.T) {
	var c Classifier
	var data []byte
	for v := 0; v < 256; v++ {
		switch byte(v) {
		case '$', '#', '+', '-':
		default:
			data = append(data, byte(v))
		}
	}
	forwarded, displayed := feed(t, &c, string(data))
	assert.Empty(t, forwarded)
	assert.Equal(t, data, displayed)
}

func TestClassifier_MixedStream(t *testing.T) {
	var c Classifier
	var forwarded, displayed []byte
	for _, b := range []byte("hello$AB#12OK") {
		if c.Classify(b) == RoutingForward {
			forwarded = append(forwarded, b)
		} else {
			displayed = append(displayed, b)
		}
	}
	assert.Equal(t, []byte("$AB#12"), forwarded)
	assert.Equal(t, []byte("helloOK"), displayed)
}

func TestClassifier_TerminatorOutsidePacketIsText(t *testing.T) {
	var c Classifier
	forwarded, displayed := feed(t, &c, "a#b")
	assert.Empty(t, forwarded)
	assert.Equal(t, []byte("a#b"), displayed)
}

func TestRouting_String(t *testing.T) {
	assert.Equal(t, "Forward", RoutingForward.String())
	assert.Equal(t, "Display", RoutingDisplay.String())
	assert.Equal(t, "Trailing", Trailing.String())
}
