package unpi

import (
	"bytes"
	"errors"
	"testing"
)

type collector struct {
	frames []Frame
	errs   []error
}

func (c *collector) parser() *Parser {
	return NewParser(
		func(f Frame) { c.frames = append(c.frames, f) },
		func(err error) { c.errs = append(c.errs, err) },
	)
}

func mustMarshal(t *testing.T, f Frame) []byte {
	t.Helper()
	raw, err := f.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestParserSingleFrame(t *testing.T) {
	var c collector
	p := c.parser()
	p.Feed(versionRspWire)
	if len(c.frames) != 1 || len(c.errs) != 0 {
		t.Fatalf("frames=%d errs=%v", len(c.frames), c.errs)
	}
	if p.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", p.Buffered())
	}
}

func TestParserConcatenatedMatchesSeparate(t *testing.T) {
	a := mustMarshal(t, Frame{Type: AREQ, Subsystem: ZDO, Command: 0xC1, Payload: []byte{1, 2}})
	b := mustMarshal(t, Frame{Type: SRSP, Subsystem: AF, Command: 0x01, Payload: []byte{0}})

	var one, two collector
	p1 := one.parser()
	p1.Feed(append(append([]byte(nil), a...), b...))
	p2 := two.parser()
	p2.Feed(a)
	p2.Feed(b)

	if len(one.frames) != 2 || len(two.frames) != 2 {
		t.Fatalf("frames: concatenated=%d separate=%d", len(one.frames), len(two.frames))
	}
	for i := range one.frames {
		x, y := one.frames[i], two.frames[i]
		if x.Subsystem != y.Subsystem || x.Command != y.Command || !bytes.Equal(x.Payload, y.Payload) {
			t.Errorf("frame %d differs: %s vs %s", i, x, y)
		}
	}
	if one.frames[0].Subsystem != ZDO || one.frames[1].Subsystem != AF {
		t.Errorf("order = %s, %s", one.frames[0].Subsystem, one.frames[1].Subsystem)
	}
}

func TestParserEverySplitPoint(t *testing.T) {
	for split := 1; split < len(versionRspWire); split++ {
		var c collector
		p := c.parser()
		p.Feed(versionRspWire[:split])
		if len(c.frames) != 0 {
			t.Fatalf("split %d: frame emitted early", split)
		}
		p.Feed(versionRspWire[split:])
		if len(c.frames) != 1 {
			t.Fatalf("split %d: frames = %d, want 1", split, len(c.frames))
		}
		if len(c.errs) != 0 {
			t.Fatalf("split %d: errs = %v", split, c.errs)
		}
	}
}

func TestParserByteAtATime(t *testing.T) {
	var c collector
	p := c.parser()
	stream := append(append([]byte(nil), versionRspWire...), versionRspWire...)
	for _, b := range stream {
		p.Feed([]byte{b})
	}
	if len(c.frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(c.frames))
	}
}

func TestParserBadChecksumDoesNotBlockNextFrame(t *testing.T) {
	bad := append([]byte(nil), versionRspWire...)
	bad[6] ^= 0xFF
	good := mustMarshal(t, Frame{Type: AREQ, Subsystem: SYS, Command: 0x80, Payload: []byte{0}})

	var c collector
	p := c.parser()
	p.Feed(append(bad, good...))

	if len(c.frames) != 1 || c.frames[0].Command != 0x80 {
		t.Fatalf("frames = %v", c.frames)
	}
	if len(c.errs) != 1 || !errors.Is(c.errs[0], ErrChecksum) {
		t.Fatalf("errs = %v", c.errs)
	}
}

func TestParserResyncsOnGarbage(t *testing.T) {
	var c collector
	p := c.parser()
	p.Feed(append([]byte{0x00, 0x13, 0x37}, versionRspWire...))

	if len(c.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(c.frames))
	}
	var fe *FramingError
	if len(c.errs) != 1 || !errors.As(c.errs[0], &fe) || fe.Dropped != 3 {
		t.Fatalf("errs = %v", c.errs)
	}
}

func TestParserGarbageOnly(t *testing.T) {
	var c collector
	p := c.parser()
	p.Feed([]byte{1, 2, 3, 4})
	if p.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", p.Buffered())
	}
	if len(c.errs) != 1 {
		t.Errorf("errs = %d, want 1", len(c.errs))
	}
}

func TestParserKeepsTrailingPartial(t *testing.T) {
	var c collector
	p := c.parser()
	p.Feed(append(append([]byte(nil), versionRspWire...), versionRspWire[:5]...))
	if len(c.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(c.frames))
	}
	if p.Buffered() != 5 {
		t.Fatalf("buffered = %d, want 5", p.Buffered())
	}
	p.Feed(versionRspWire[5:])
	if len(c.frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(c.frames))
	}
}

func TestParserReset(t *testing.T) {
	var c collector
	p := c.parser()
	p.Feed(versionRspWire[:7])
	p.Reset()
	p.Feed(versionRspWire)
	if len(c.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(c.frames))
	}
}
