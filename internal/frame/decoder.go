package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// Delimiter terminates every message on the wire.
const Delimiter = '\n'

// ErrFrameTooLarge is returned by Feed when the unterminated tail grows past the
// configured maximum frame size. The whole frame is dropped, up to and including
// its delimiter, even when the rest of it arrives in later calls.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ErrUnsupportedEncoding is returned for charsets in which the delimiter is not
// the single byte 0x0A, such as UTF-16.
var ErrUnsupportedEncoding = errors.New("encoding cannot be newline-delimited")

// Message is one decoded line of text, without its delimiter.
type Message string

// Decoder accumulates raw bytes and splits them into newline-delimited messages.
// A Decoder is not safe for concurrent use; it is owned by a single reader.
type Decoder struct {
	buf          []byte
	maxFrameSize int
	enc          encoding.Encoding

	// discarding is set while the remainder of an oversized frame is skipped.
	discarding bool
}

// Option configures a Decoder.
type Option func(*Decoder) error

// WithMaxFrameSize caps the number of bytes buffered without seeing a delimiter.
// Zero or a negative value disables the cap.
func WithMaxFrameSize(n int) Option {
	return func(d *Decoder) error {
		d.maxFrameSize = n
		return nil
	}
}

// WithEncoding converts each frame from the named IANA charset (e.g. "ISO-8859-1")
// into UTF-8. The empty name keeps the UTF-8 default.
func WithEncoding(name string) Option {
	return func(d *Decoder) error {
		if name == "" {
			return nil
		}
		enc, err := ianaindex.IANA.Encoding(name)
		if err != nil {
			return fmt.Errorf("unknown encoding %q: %w", name, err)
		}
		if enc == nil {
			return fmt.Errorf("encoding %q is not supported", name)
		}
		if !delimiterIsSingleByte(enc) {
			return fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
		}
		d.enc = enc
		return nil
	}
}

func delimiterIsSingleByte(enc encoding.Encoding) bool {
	b, err := enc.NewEncoder().Bytes([]byte{Delimiter})
	return err == nil && bytes.Equal(b, []byte{Delimiter})
}

// NewDecoder creates an empty decoder.
func NewDecoder(opts ...Option) (*Decoder, error) {
	d := &Decoder{enc: unicode.UTF8}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Feed appends b to the internal buffer and returns every complete message it can
// extract, in stream order. Bytes after the last delimiter stay buffered for the
// next call. Empty segments are skipped. A segment that fails to decode is
// dropped and reported in the error; the messages around it are still returned.
func (d *Decoder) Feed(b []byte) ([]Message, error) {
	if d.discarding {
		i := bytes.IndexByte(b, Delimiter)
		if i < 0 {
			return nil, nil
		}
		d.discarding = false
		b = b[i+1:]
	}
	d.buf = append(d.buf, b...)

	var out []Message
	var errs []error
	for {
		i := bytes.IndexByte(d.buf, Delimiter)
		if i < 0 {
			break
		}
		segment := d.buf[:i]
		d.buf = d.buf[i+1:]
		if len(segment) == 0 {
			continue
		}
		msg, err := d.decode(segment)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, msg)
	}

	// Re-home the tail so the consumed prefix can be collected.
	if len(d.buf) == 0 {
		d.buf = nil
	} else if cap(d.buf) > 2*len(d.buf) {
		d.buf = append([]byte(nil), d.buf...)
	}

	if d.maxFrameSize > 0 && len(d.buf) > d.maxFrameSize {
		d.buf = nil
		d.discarding = true
		errs = append(errs, ErrFrameTooLarge)
	}
	return out, errors.Join(errs...)
}

// Pending reports how many unterminated bytes are buffered.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Reset discards any unterminated data.
func (d *Decoder) Reset() {
	d.buf = nil
	d.discarding = false
}

func (d *Decoder) decode(segment []byte) (Message, error) {
	if d.enc == unicode.UTF8 {
		return Message(strings.ToValidUTF8(string(segment), "�")), nil
	}
	text, err := d.enc.NewDecoder().Bytes(segment)
	if err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	return Message(text), nil
}
