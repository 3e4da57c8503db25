package unpi

import "bytes"

// Parser reassembles frames from arbitrary-sized chunks of a byte stream.
// It is not safe for concurrent use; feed it from a single reader goroutine.
type Parser struct {
	buf     []byte
	onFrame func(Frame)
	onError func(error)
}

// NewParser creates a parser. Either callback may be nil.
func NewParser(onFrame func(Frame), onError func(error)) *Parser {
	return &Parser{onFrame: onFrame, onError: onError}
}

// Buffered returns the number of bytes held waiting for a complete frame.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Reset drops any partially received frame.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
}

// Feed appends chunk and emits every frame it completes, in stream order.
// Bad frames are reported through the error callback and never stop the loop.
func (p *Parser) Feed(chunk []byte) {
	p.buf = append(p.buf, chunk...)
	off := 0
	for off < len(p.buf) {
		rest := p.buf[off:]
		if rest[0] != SOF {
			skip := bytes.IndexByte(rest, SOF)
			if skip < 0 {
				skip = len(rest)
			}
			p.emitError(&FramingError{Reason: "garbage before start of frame", Dropped: skip})
			off += skip
			continue
		}
		if len(rest) < 2 {
			break
		}
		total := headerSize + int(rest[1]) + 1
		if len(rest) < total {
			break
		}
		raw := rest[:total]
		off += total

		f, err := FromBuffer(raw)
		if err != nil {
			p.emitError(err)
			continue
		}
		if p.onFrame != nil {
			p.onFrame(f)
		}
	}
	n := copy(p.buf, p.buf[off:])
	p.buf = p.buf[:n]
}

func (p *Parser) emitError(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}
