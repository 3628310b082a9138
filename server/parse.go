package server

import (
	"fmt"
	"strings"
)

// ParseRequest turns the raw bytes of one request into a RequestFrame.
//
// The first line is split on spaces and tabs into method, resource and
// protocol; extra tokens are ignored and a missing protocol is left
// empty. Every following line is a header split at its first ':' with
// one leading space removed from the value. The first empty line (a
// lone "\r" counts as empty) ends the headers and the rest of the buffer
// is the body, verbatim.
func ParseRequest(buf []byte) (*RequestFrame, error) {
	raw := string(buf)

	// Leading line breaks are skipped before the request line.
	raw = strings.TrimLeft(raw, "\r\n")
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyRequest
	}

	first, rest, _ := cutLine(raw)
	fields := strings.FieldsFunc(first, func(r rune) bool { return r == ' ' || r == '\t' })
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRequestLine, first)
	}

	req := &RequestFrame{
		Method:   fields[0],
		Resource: fields[1],
	}
	if len(fields) > 2 {
		req.Protocol = fields[2]
	}

	for rest != "" {
		var line string
		var more bool
		line, rest, more = cutLine(rest)
		if line == "" {
			req.Body = rest
			break
		}
		req.Headers = append(req.Headers, splitHeader(line))
		if !more {
			break
		}
	}

	return req, nil
}

// cutLine returns the text before the first '\n' with one trailing '\r'
// removed, and the remainder after the '\n'.
func cutLine(s string) (line, rest string, found bool) {
	line, rest, found = strings.Cut(s, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, rest, found
}

func splitHeader(line string) HeaderEntry {
	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	return HeaderEntry{Field: field, Value: value}
}
