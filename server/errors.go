package server

import "errors"

var (
	// ErrEmptyRequest means the connection produced no request line at all.
	ErrEmptyRequest = errors.New("empty request")

	// ErrMalformedRequestLine means the first line lacks a method or resource.
	ErrMalformedRequestLine = errors.New("malformed request line")

	// ErrRequestTooLarge is reported when the read buffer hit its limit
	// before a header terminator arrived. The truncated buffer is still parsed.
	ErrRequestTooLarge = errors.New("request exceeds max_request_bytes")

	ErrServerClosed = errors.New("server closed")
)
