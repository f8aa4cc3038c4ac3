package client

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TextStream decodes a relayed byte stream into text as it arrives. A rune
// split across reads is held back until its remaining bytes show up; invalid
// bytes decode to U+FFFD.
type TextStream struct {
	body    io.ReadCloser
	dec     transform.Transformer
	buf     []byte
	pending []byte
	err     error
}

func NewTextStream(body io.ReadCloser) *TextStream {
	return &TextStream{
		body: body,
		dec:  unicode.UTF8.NewDecoder(),
		buf:  make([]byte, 32*1024),
	}
}

// Next returns the text decoded from the next read. It never returns an empty
// string with a nil error. At a clean end it returns io.EOF.
func (s *TextStream) Next() (string, error) {
	for s.err == nil {
		n, rerr := s.body.Read(s.buf)
		s.pending = append(s.pending, s.buf[:n]...)

		atEOF := errors.Is(rerr, io.EOF)
		text, derr := s.decode(atEOF)
		switch {
		case derr != nil:
			s.err = fmt.Errorf("decode agent stream: %w", derr)
		case atEOF:
			s.err = io.EOF
		case rerr != nil:
			s.err = fmt.Errorf("read agent stream: %w", rerr)
		}
		if text != "" {
			return text, nil
		}
	}
	return "", s.err
}

func (s *TextStream) decode(atEOF bool) (string, error) {
	if len(s.pending) == 0 {
		return "", nil
	}
	// Each invalid byte may expand to the three bytes of U+FFFD.
	dst := make([]byte, 3*len(s.pending)+4)
	nDst, nSrc, err := s.dec.Transform(dst, s.pending, atEOF)
	if errors.Is(err, transform.ErrShortSrc) && !atEOF {
		err = nil
	}
	s.pending = append(s.pending[:0], s.pending[nSrc:]...)
	return string(dst[:nDst]), err
}

func (s *TextStream) Close() error {
	return s.body.Close()
}
