package agent

import (
	"fmt"
	"io"
	"net/http"
)

const defaultChunkSize = 32 * 1024

// Stream is a single-pass, pull-based sequence of raw response chunks.
// It is not safe for concurrent use and cannot be restarted.
type Stream struct {
	body        io.ReadCloser
	buf         []byte
	contentType string
	err         error
}

// NewStream wraps body. contentType is reported as-is by ContentType.
func NewStream(body io.ReadCloser, contentType string) *Stream {
	return &Stream{
		body:        body,
		buf:         make([]byte, defaultChunkSize),
		contentType: contentType,
	}
}

func newResponseStream(resp *http.Response) *Stream {
	return NewStream(resp.Body, resp.Header.Get("Content-Type"))
}

// Next returns the next chunk exactly as read from the wire. The slice is only
// valid until the following call. At the end of the stream Next returns io.EOF;
// any other failure wraps ErrStream and is sticky.
func (s *Stream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			if err != nil {
				s.setErr(err)
			}
			return s.buf[:n], nil
		}
		if err != nil {
			s.setErr(err)
			return nil, s.err
		}
	}
}

func (s *Stream) setErr(err error) {
	if err == io.EOF {
		s.err = io.EOF
		return
	}
	s.err = fmt.Errorf("%w: %v", ErrStream, err)
}

func (s *Stream) ContentType() string {
	return s.contentType
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	return s.body.Close()
}
