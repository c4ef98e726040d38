package upstream

import (
	"bufio"
	"bytes"
	"io"
)

const maxSSELine = 1 << 20

// SSEReader yields the data payloads of a server-sent event stream. Event
// names are ignored; multi-line data fields are joined with newlines.
type SSEReader struct {
	scanner *bufio.Scanner
	data    []byte
	done    bool
}

func NewSSEReader(r io.Reader) *SSEReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &SSEReader{scanner: s}
}

// Next returns the next data payload. It returns io.EOF at the end of the
// stream or after a [DONE] payload.
func (r *SSEReader) Next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			if payload, ok := r.flush(); ok {
				return payload, nil
			}
			if r.done {
				return nil, io.EOF
			}
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if len(r.data) > 0 {
			r.data = append(r.data, '\n')
		}
		r.data = append(r.data, value...)
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if payload, ok := r.flush(); ok {
		return payload, nil
	}
	r.done = true
	return nil, io.EOF
}

func (r *SSEReader) flush() ([]byte, bool) {
	if len(r.data) == 0 {
		return nil, false
	}
	payload := r.data
	r.data = nil
	if string(bytes.TrimSpace(payload)) == "[DONE]" {
		r.done = true
		return nil, false
	}
	return payload, true
}
