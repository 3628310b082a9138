package server

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

var siteFiles = map[string]string{
	"hello.txt":       "Hello, world!",
	"index.html":      "<h1>home</h1>",
	"docs/guide.md":   "# Guide",
	"docs/notes.txt":  "notes",
	"img/logo.png":    "\x89PNG",
	"archive.tar.gz":  "gz",
	"no_extension":    "raw",
	"docs/deep/x.xml": "<x/>",
}

func TestServeConnFile(t *testing.T) {
	s := newMemServer(t, Options{}, siteFiles)

	got := serveOnce(t, s, "GET /hello.txt HTTP/1.1\r\nHost: localhost\r\n\r\n")
	want := "HTTP/1.1 200 OK\nContent-Length: 13\nContent-Type: text/plain\n\nHello, world!\r\n"
	if got != want {
		t.Fatalf("response = %q, want %q", got, want)
	}
}

func TestServeConnDirectoryListing(t *testing.T) {
	s := newMemServer(t, Options{}, siteFiles)

	got := serveOnce(t, s, "GET /docs HTTP/1.1\r\n\r\n")
	want := "HTTP/1.1 200 OK\n\n" + listingOpen +
		`<a href="/docs/deep"><li>deep</li></a>` +
		`<a href="/docs/guide.md"><li>guide.md</li></a>` +
		`<a href="/docs/notes.txt"><li>notes.txt</li></a>` +
		listingClose
	if got != want {
		t.Fatalf("response = %q, want %q", got, want)
	}
}

func TestServeConnMissing(t *testing.T) {
	s := newMemServer(t, Options{}, siteFiles)

	got := serveOnce(t, s, "GET /missing.html HTTP/1.1\r\n\r\n")
	want := "HTTP/1.1 200 OK\n\n" + listingOpen + listingClose
	if got != want {
		t.Fatalf("response = %q, want %q", got, want)
	}

	strict := newMemServer(t, Options{NotFoundStatus: true, ListingContentType: true, LineEnding: LineEndingCRLF}, siteFiles)
	got = serveOnce(t, strict, "GET /missing.html HTTP/1.1\r\n\r\n")
	want = "HTTP/1.1 404 Not Found\r\nContent-Type: text/html\r\n\r\n" + listingOpen + listingClose
	if got != want {
		t.Fatalf("strict response = %q, want %q", got, want)
	}
}

func TestServeConnBadProtocol(t *testing.T) {
	s := newMemServer(t, Options{}, siteFiles)

	got := serveOnce(t, s, "GET /hello.txt HTTP/9.9\r\n\r\n")
	want := "HTTP/1.1 400 Bad Request\nContent-Length: 13\nContent-Type: text/plain\n\nHello, world!\r\n"
	if got != want {
		t.Fatalf("response = %q, want %q", got, want)
	}

	snap := s.Metrics().Snapshot()
	if snap.BadRequests != 1 {
		t.Fatalf("BadRequests = %d, want 1", snap.BadRequests)
	}
}

func TestServeConnMethodIgnored(t *testing.T) {
	s := newMemServer(t, Options{}, siteFiles)

	got := serveOnce(t, s, "DELETE /no_extension HTTP/1.0\n\n")
	want := "HTTP/1.1 200 OK\nContent-Length: 3\nContent-Type: application/octet-stream\n\nraw\r\n"
	if got != want {
		t.Fatalf("response = %q, want %q", got, want)
	}
}

func TestServeConnUnparseableClosesSilently(t *testing.T) {
	s := newMemServer(t, Options{}, siteFiles)

	for _, raw := range []string{"\r\n\r\n", "GARBAGE\r\n\r\n"} {
		if got := serveOnce(t, s, raw); got != "" {
			t.Fatalf("request %q: expected no response, got %q", raw, got)
		}
	}

	snap := s.Metrics().Snapshot()
	if snap.ParseFailures != 2 || snap.TotalErrors != 2 {
		t.Fatalf("unexpected metrics: %+v", snap)
	}
	if snap.InFlight != 0 {
		t.Fatalf("InFlight = %d after all connections closed", snap.InFlight)
	}
}

func TestServeConnMetricsByKind(t *testing.T) {
	s := newMemServer(t, Options{}, siteFiles)

	serveOnce(t, s, "GET /hello.txt HTTP/1.1\r\n\r\n")
	serveOnce(t, s, "GET /index.html HTTP/1.1\r\n\r\n")
	serveOnce(t, s, "GET / HTTP/1.1\r\n\r\n")
	serveOnce(t, s, "GET /nope HTTP/1.1\r\n\r\n")

	snap := s.Metrics().Snapshot()
	if snap.TotalRequests != 4 {
		t.Fatalf("TotalRequests = %d", snap.TotalRequests)
	}
	if km := snap.ByKind["file"]; km == nil || km.Count != 2 {
		t.Fatalf("file metrics = %+v", km)
	}
	if km := snap.ByKind["directory"]; km == nil || km.Count != 1 {
		t.Fatalf("directory metrics = %+v", km)
	}
	if km := snap.ByKind["missing"]; km == nil || km.Count != 1 {
		t.Fatalf("missing metrics = %+v", km)
	}
	if snap.BytesWritten <= 0 {
		t.Fatalf("BytesWritten = %d", snap.BytesWritten)
	}
}

func TestServeConnVerbose(t *testing.T) {
	s := newMemServer(t, Options{Verbose: true}, siteFiles)

	got := serveOnce(t, s, "GET /hello.txt HTTP/1.1\r\nUser-Agent: test\r\n\r\nbody")
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\n") {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestReadRequestStopsAtBlankLine(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: a\r\n\r\n"
	buf, err := readRequest(strings.NewReader(raw), 4, 1024)
	if err != nil {
		t.Fatalf("readRequest error: %v", err)
	}
	if string(buf) != raw {
		t.Fatalf("buf = %q, want %q", buf, raw)
	}
}

func TestReadRequestEOFWithoutTerminator(t *testing.T) {
	buf, err := readRequest(strings.NewReader("GET / HTTP/1.1"), 0, 0)
	if err != nil {
		t.Fatalf("readRequest error: %v", err)
	}
	if string(buf) != "GET / HTTP/1.1" {
		t.Fatalf("buf = %q", buf)
	}
}

func TestReadRequestEmpty(t *testing.T) {
	if _, err := readRequest(strings.NewReader(""), 16, 64); !errors.Is(err, ErrEmptyRequest) {
		t.Fatalf("expected ErrEmptyRequest, got %v", err)
	}
}

func TestReadRequestLimit(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Long: " + strings.Repeat("a", 200)
	buf, err := readRequest(strings.NewReader(raw), 8, 32)
	if !errors.Is(err, ErrRequestTooLarge) {
		t.Fatalf("expected ErrRequestTooLarge, got %v", err)
	}
	if len(buf) != 32 || string(buf) != raw[:32] {
		t.Fatalf("buf = %q", buf)
	}
}

func TestReadRequestDeadlineKeepsPartial(t *testing.T) {
	r := io.MultiReader(strings.NewReader("GET /a HTTP/1.1\r\n"), errReader{os.ErrDeadlineExceeded})
	buf, err := readRequest(r, 64, 1024)
	if err != nil {
		t.Fatalf("readRequest error: %v", err)
	}
	if string(buf) != "GET /a HTTP/1.1\r\n" {
		t.Fatalf("buf = %q", buf)
	}

	if _, err := readRequest(errReader{errors.New("reset")}, 64, 1024); err == nil {
		t.Fatalf("expected error from a failing reader")
	}
}

func TestHeaderFold(t *testing.T) {
	req := &RequestFrame{Headers: []HeaderEntry{{Field: "user-agent", Value: "lower"}}}
	if got := headerFold(req, "User-Agent"); got != "lower" {
		t.Fatalf("headerFold = %q", got)
	}
	if got := headerFold(req, "Host"); got != "" {
		t.Fatalf("headerFold(Host) = %q", got)
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
