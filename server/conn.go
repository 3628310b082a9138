package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pipeline is the immutable set of stages a connection runs through.
// The server swaps whole pipelines; a connection loads one at start and
// uses it to the end.
type Pipeline struct {
	Resolver  *Resolver
	Generator Generator
	Writer    *ResponseWriter
}

// RequestLog is the structured line written for every connection.
type RequestLog struct {
	Time       time.Time `json:"time"`
	ID         string    `json:"id"`
	Method     string    `json:"method,omitempty"`
	Resource   string    `json:"resource,omitempty"`
	Protocol   string    `json:"protocol,omitempty"`
	Status     int       `json:"status,omitempty"`
	Kind       string    `json:"kind,omitempty"` // "file", "directory" or "missing"
	Bytes      int64     `json:"bytes"`
	DurationMs float64   `json:"duration_ms"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Stage      string    `json:"stage,omitempty"` // where handling stopped on error
	Error      string    `json:"error,omitempty"`
}

func logRequestJSON(entry RequestLog) {
	b, err := json.Marshal(entry)
	if err != nil {
		log.Printf("error marshaling log entry: %v", err)
		return
	}
	log.Println(string(b))
}

// ServeConn handles one connection end to end and closes it. It never
// panics; failures end this connection only.
func (s *Server) ServeConn(conn net.Conn) {
	start := time.Now()
	entry := RequestLog{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr(conn),
	}

	s.metrics.StartRequest()

	defer func() {
		if r := recover(); r != nil {
			entry.Stage = "panic"
			entry.Error = fmt.Sprint(r)
			log.Printf("[conn %s] panic: %v", entry.ID, r)
		}
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("[conn %s] close error: %v", entry.ID, err)
		}

		elapsed := time.Since(start)
		entry.Time = time.Now()
		entry.DurationMs = float64(elapsed.Microseconds()) / 1000
		s.metrics.EndRequest(entry, elapsed)
		logRequestJSON(entry)
	}()

	s.handle(conn, &entry)
}

func (s *Server) handle(conn net.Conn, entry *RequestLog) {
	p := s.pipeline.Load()

	if s.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	}
	buf, err := readRequest(conn, s.opts.ReadBufferSize, s.opts.MaxRequestBytes)
	if errors.Is(err, ErrRequestTooLarge) {
		log.Printf("[conn %s] %v, parsing first %d bytes", entry.ID, err, len(buf))
	} else if err != nil {
		entry.Stage = "read"
		entry.Error = err.Error()
		return
	}

	req, err := ParseRequest(buf)
	if err != nil {
		entry.Stage = "parse"
		entry.Error = err.Error()
		return
	}
	entry.Method = req.Method
	entry.Resource = req.Resource
	entry.Protocol = req.Protocol
	entry.UserAgent = headerFold(req, "User-Agent")

	if s.opts.Verbose {
		logRequestVerbose(entry.ID, req)
	}

	res := p.Resolver.Resolve(req.Resource)
	frame := p.Generator.Generate(req, res)
	entry.Kind = res.Kind()
	entry.Status = frame.StatusCode

	if s.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	n, err := p.Writer.Write(conn, frame, res)
	entry.Bytes = n
	if err != nil {
		entry.Stage = "write"
		entry.Error = err.Error()
	}
}

// readRequest reads until the buffer holds a blank line ending the header
// block, the peer stops sending, or limit bytes have arrived. Bytes read
// before EOF or a deadline are returned for parsing.
func readRequest(r io.Reader, chunk, limit int) ([]byte, error) {
	if chunk <= 0 {
		chunk = DefaultReadBufferSize
	}
	buf := make([]byte, 0, chunk)
	tmp := make([]byte, chunk)

	for {
		n, err := r.Read(tmp)
		buf = append(buf, tmp[:n]...)

		if headerComplete(buf) {
			return buf, nil
		}
		if limit > 0 && len(buf) >= limit {
			return buf[:limit], ErrRequestTooLarge
		}
		if err == nil {
			continue
		}
		if len(buf) == 0 {
			if err == io.EOF {
				return nil, ErrEmptyRequest
			}
			return nil, fmt.Errorf("read request: %w", err)
		}
		if err == io.EOF || errors.Is(err, os.ErrDeadlineExceeded) {
			return buf, nil
		}
		return nil, fmt.Errorf("read request: %w", err)
	}
}

var (
	blankLineLF   = []byte("\n\n")
	blankLineCRLF = []byte("\n\r\n")
)

func headerComplete(buf []byte) bool {
	return bytes.Contains(buf, blankLineLF) || bytes.Contains(buf, blankLineCRLF)
}

// headerFold finds a header ignoring case. It is only used for logging;
// the frame itself keeps fields exactly as received.
func headerFold(req *RequestFrame, name string) string {
	if v, ok := req.Header(name); ok {
		return v
	}
	for _, h := range req.Headers {
		if strings.EqualFold(h.Field, name) {
			return h.Value
		}
	}
	return ""
}

func logRequestVerbose(id string, req *RequestFrame) {
	var b strings.Builder
	fmt.Fprintf(&b, "[conn %s] --- REQUEST RECEIVED ---\n", id)
	fmt.Fprintf(&b, "Request Method   - %s\n", req.Method)
	fmt.Fprintf(&b, "Request Resource - %s\n", req.Resource)
	fmt.Fprintf(&b, "Request Protocol - %s\n", req.Protocol)
	b.WriteString("HEADERS :\n")
	for _, h := range req.Headers {
		fmt.Fprintf(&b, "Header : %s\nValue  : %s\n", h.Field, h.Value)
	}
	fmt.Fprintf(&b, "Body : %s\n--- REQUEST COMPLETE ---", req.Body)
	log.Println(b.String())
}

func remoteAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
