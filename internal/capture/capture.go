// Package capture records the frames crossing the transport to a file of
// CBOR records and reads them back.
package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

// Record is one captured frame. Frame holds the wire bytes, SOF to FCS.
type Record struct {
	TS    time.Time `cbor:"ts"`
	Dir   string    `cbor:"dir"`
	Frame []byte    `cbor:"frame"`
}

// Decode parses the captured wire bytes.
func (r Record) Decode() (unpi.Frame, error) {
	return unpi.FromBuffer(r.Frame)
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano, TimeTag: cbor.EncTagRequired}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Writer appends records to a stream. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	enc    *cbor.Encoder
	logger *slog.Logger
	now    func() time.Time
	count  int
	failed bool
}

// NewWriter writes records to w. Close closes w when it is an io.Closer.
func NewWriter(w io.Writer, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		w:      w,
		enc:    encMode.NewEncoder(w),
		logger: logger.With("component", "capture"),
		now:    time.Now,
	}
}

// Create opens path for appending and returns a Writer on it.
func Create(path string, logger *slog.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	return NewWriter(f, logger), nil
}

// Write appends one record.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	w.count++
	return nil
}

// Tap returns a driver tap that records every frame. Write errors are
// logged once and the capture keeps trying.
func (w *Writer) Tap() znp.Tap {
	return func(dir znp.Direction, f unpi.Frame) {
		raw, err := f.MarshalBinary()
		if err != nil {
			return
		}
		err = w.Write(Record{TS: w.now(), Dir: dir.String(), Frame: raw})
		w.mu.Lock()
		defer w.mu.Unlock()
		if err != nil && !w.failed {
			w.logger.Error("capture write failed", "err", err)
		}
		w.failed = err != nil
	}
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Reader reads records in order.
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF after the last one. A record cut
// short at the end of the stream yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (*Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, fmt.Errorf("capture: %w", err)
	}
	return &rec, nil
}

// ReadAll reads every record of a capture file.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	r := NewReader(f)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, *rec)
	}
}
