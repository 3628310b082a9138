package server

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// LineEnding terminates the status line, each header and the separator.
type LineEnding string

const (
	LineEndingLF   LineEnding = "\n"
	LineEndingCRLF LineEnding = "\r\n"
)

// ParseLineEnding maps the config spelling ("lf", "crlf") to a LineEnding.
func ParseLineEnding(s string) (LineEnding, error) {
	switch strings.ToLower(s) {
	case "", "lf":
		return LineEndingLF, nil
	case "crlf":
		return LineEndingCRLF, nil
	}
	return "", fmt.Errorf("unknown line ending %q", s)
}

func (l LineEnding) String() string {
	if l == LineEndingCRLF {
		return "crlf"
	}
	return "lf"
}

// fileTrailer follows the last chunk of every file body.
const fileTrailer = "\r\n"

const (
	listingOpen  = "<html><body><h1>File Listing</h1><ul>"
	listingClose = "</ul></body></html>"
)

const DefaultChunkSize = 1024

// ResponseWriter serializes a frame and its body.
type ResponseWriter struct {
	fs        billy.Filesystem
	eol       LineEnding
	chunkSize int
}

func NewResponseWriter(fs billy.Filesystem, eol LineEnding, chunkSize int) *ResponseWriter {
	if eol == "" {
		eol = LineEndingLF
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ResponseWriter{fs: fs, eol: eol, chunkSize: chunkSize}
}

// Write sends status line, headers, separator and body to w and returns
// the number of bytes written. The first error stops all further writes.
func (rw *ResponseWriter) Write(w io.Writer, frame *ResponseFrame, res Resolution) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriterSize(cw, rw.chunkSize)

	if err := rw.writeHead(bw, frame); err != nil {
		return cw.n, err
	}

	var err error
	switch r := res.(type) {
	case RegularFile:
		err = rw.writeFile(bw, r)
	case Directory:
		err = writeListing(bw, r.DisplayPrefix, r.Entries())
	default:
		err = writeListing(bw, "", nil)
	}
	if err != nil {
		return cw.n, err
	}

	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("flush: %w", err)
	}
	return cw.n, nil
}

func (rw *ResponseWriter) writeHead(w *bufio.Writer, frame *ResponseFrame) error {
	eol := string(rw.eol)
	if _, err := fmt.Fprintf(w, "%s %d %s%s", frame.Protocol, frame.StatusCode, frame.StatusMessage, eol); err != nil {
		return fmt.Errorf("write status line: %w", err)
	}
	for _, h := range frame.Headers {
		if _, err := fmt.Fprintf(w, "%s: %s%s", h.Field, h.Value, eol); err != nil {
			return fmt.Errorf("write header %s: %w", h.Field, err)
		}
	}
	if _, err := w.WriteString(eol); err != nil {
		return fmt.Errorf("write separator: %w", err)
	}
	return nil
}

func (rw *ResponseWriter) writeFile(w *bufio.Writer, f RegularFile) error {
	file, err := rw.fs.Open(f.AbsolutePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.AbsolutePath, err)
	}
	defer file.Close()

	buf := make([]byte, rw.chunkSize)
	for {
		n, rerr := file.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("write body: %w", err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read %s: %w", f.AbsolutePath, rerr)
		}
	}

	if _, err := w.WriteString(fileTrailer); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// writeListing renders the listing page. A nil names sequence renders
// the empty page served for missing resources.
func writeListing(w *bufio.Writer, prefix string, names iter.Seq[string]) error {
	if _, err := w.WriteString(listingOpen); err != nil {
		return fmt.Errorf("write listing: %w", err)
	}
	if names != nil {
		for name := range names {
			if _, err := w.WriteString(listingItem(prefix, name)); err != nil {
				return fmt.Errorf("write listing: %w", err)
			}
		}
	}
	if _, err := w.WriteString(listingClose); err != nil {
		return fmt.Errorf("write listing: %w", err)
	}
	return nil
}

func listingItem(prefix, name string) string {
	href := "/" + name
	if prefix != "" {
		href = "/" + prefix + "/" + name
	}
	return `<a href="` + href + `"><li>` + name + `</li></a>`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
