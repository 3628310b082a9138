package server

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// newMemTree returns an in-memory filesystem holding files under /www.
// Keys are paths relative to /www.
func newMemTree(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()

	fs := memfs.New()
	if err := fs.MkdirAll("/www", 0o755); err != nil {
		t.Fatalf("mkdir /www: %v", err)
	}
	for name, body := range files {
		if err := util.WriteFile(fs, "/www/"+name, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return fs
}

// newMemServer builds a Server over newMemTree rooted at /www.
func newMemServer(t *testing.T, opts Options, files map[string]string) *Server {
	t.Helper()
	return NewServerFS(opts, newMemTree(t, files), "/www", nil)
}

// serveOnce runs ServeConn on one end of an in-memory pipe, writes raw
// from the other end and returns everything the server sent before it
// closed the connection. It waits for ServeConn to return so metrics
// are settled.
func serveOnce(t *testing.T, s *Server, raw string) string {
	t.Helper()

	client, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.ServeConn(srv)
	}()

	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(client, raw); err != nil {
		t.Fatalf("write request: %v", err)
	}
	out, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	client.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("ServeConn did not return")
	}
	return string(out)
}

// failAfter accepts n bytes and then fails every write.
type failAfter struct {
	n   int
	err error
}

func (f *failAfter) Write(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, f.err
	}
	if len(p) > f.n {
		w := f.n
		f.n = 0
		return w, f.err
	}
	f.n -= len(p)
	return len(p), nil
}
