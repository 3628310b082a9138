package server

import "strconv"

const (
	ProtocolHTTP11 = "HTTP/1.1"
	ProtocolHTTP10 = "HTTP/1.0"
)

// Generator builds response frames. The zero value reproduces the
// classic behavior: missing resources answer 200 with an empty listing
// and listings carry no Content-Type.
type Generator struct {
	// NotFoundStatus answers Missing with 404 Not Found.
	NotFoundStatus bool
	// ListingContentType adds Content-Type: text/html to listings.
	ListingContentType bool
}

// Generate is pure: it never touches the filesystem or the network.
// A bad protocol string sets 400 but the resource headers are still
// filled in and the caller still writes a body.
func (g Generator) Generate(req *RequestFrame, res Resolution) *ResponseFrame {
	frame := &ResponseFrame{
		Protocol:      ProtocolHTTP11,
		StatusCode:    200,
		StatusMessage: "OK",
	}

	if req.Protocol != ProtocolHTTP11 && req.Protocol != ProtocolHTTP10 {
		frame.StatusCode = 400
		frame.StatusMessage = "Bad Request"
	}

	switch r := res.(type) {
	case RegularFile:
		frame.AddHeader("Content-Length", strconv.FormatInt(r.SizeBytes, 10))
		frame.AddHeader("Content-Type", r.MimeType)
	case Directory:
		if g.ListingContentType {
			frame.AddHeader("Content-Type", "text/html")
		}
	case Missing:
		if g.NotFoundStatus && frame.StatusCode == 200 {
			frame.StatusCode = 404
			frame.StatusMessage = "Not Found"
		}
		if g.ListingContentType {
			frame.AddHeader("Content-Type", "text/html")
		}
	}

	return frame
}
