package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

const (
	DefaultReadBufferSize  = 1024
	DefaultMaxRequestBytes = 64 * 1024
)

// Options configures a Server. Zero timeouts mean a connection may block
// forever on a silent peer.
type Options struct {
	WebRoot string
	Addr    string

	ReadBufferSize  int
	MaxRequestBytes int
	WriteChunkSize  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	LineEnding         LineEnding
	NotFoundStatus     bool
	ListingContentType bool

	// SafePaths confines every lookup to WebRoot; ".." cannot climb out.
	SafePaths bool
	// ReusePort sets SO_REUSEPORT so several processes can share Addr.
	ReusePort bool
	Verbose   bool
}

type Server struct {
	opts     Options
	pipeline atomic.Pointer[Pipeline]
	metrics  *Metrics

	mu       sync.Mutex
	listener net.Listener
	watcher  *fsnotify.Watcher
	closed   bool
	conns    sync.WaitGroup
}

// NewServer serves opts.WebRoot from the host filesystem.
func NewServer(opts Options, mime *MimeTable) (*Server, error) {
	if opts.WebRoot == "" {
		return nil, errors.New("web root is required")
	}
	root, err := filepath.Abs(opts.WebRoot)
	if err != nil {
		return nil, fmt.Errorf("web root: %w", err)
	}
	opts.WebRoot = root

	fs, prefix := hostFilesystem(root, opts.SafePaths)
	return NewServerFS(opts, fs, prefix, mime), nil
}

// hostFilesystem returns the filesystem and the prefix request paths are
// appended to. In safe mode the filesystem is bound to root and request
// paths are used as they are.
func hostFilesystem(root string, safe bool) (billy.Filesystem, string) {
	if safe {
		return osfs.New(root, osfs.WithBoundOS()), ""
	}
	return osfs.New("/"), strings.TrimRight(root, "/")
}

// NewServerFS serves root inside an arbitrary filesystem.
func NewServerFS(opts Options, fs billy.Filesystem, root string, mime *MimeTable) *Server {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.WriteChunkSize <= 0 {
		opts.WriteChunkSize = DefaultChunkSize
	}
	if opts.LineEnding == "" {
		opts.LineEnding = LineEndingLF
	}

	s := &Server{
		opts:    opts,
		metrics: NewMetrics(),
	}
	s.pipeline.Store(&Pipeline{
		Resolver: NewResolver(fs, root, mime),
		Generator: Generator{
			NotFoundStatus:     opts.NotFoundStatus,
			ListingContentType: opts.ListingContentType,
		},
		Writer: NewResponseWriter(fs, opts.LineEnding, opts.WriteChunkSize),
	})
	return s
}

func (s *Server) Options() Options    { return s.opts }
func (s *Server) Metrics() *Metrics   { return s.metrics }
func (s *Server) Pipeline() *Pipeline { return s.pipeline.Load() }

// SetMimeTable swaps in a new table for connections accepted from now on.
func (s *Server) SetMimeTable(t *MimeTable) {
	for {
		old := s.pipeline.Load()
		next := *old
		next.Resolver = old.Resolver.WithMimeTable(t)
		if s.pipeline.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	lc, err := listenConfig(s.opts.ReusePort)
	if err != nil {
		return err
	}
	ln, err := lc.Listen(context.Background(), "tcp", s.opts.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts connections until Shutdown and hands each one to its own
// goroutine. It returns ErrServerClosed after Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			// back off on transient accept errors such as EMFILE
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			log.Printf("[server] accept error: %v; retrying in %v", err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.ServeConn(conn)
		}()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown stops accepting, stops the config watcher and waits for
// in-flight connections until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if w != nil {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

// EnableHotReload watches configPath and, whenever it is written or
// replaced, installs the MIME table returned by reload. The web root and
// listen address are never reloaded.
func (s *Server) EnableHotReload(configPath string, reload func() (*MimeTable, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: editors often replace the file instead of
	// writing it in place, which drops a watch on the file itself.
	dir := filepath.Dir(configPath)
	name := filepath.Base(configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.watcher = watcher
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				table, err := reload()
				if err != nil {
					log.Printf("[watch] reload %s failed, keeping current MIME table: %v", ev.Name, err)
					continue
				}
				s.SetMimeTable(table)
				log.Printf("[watch] %s changed, MIME table reloaded (%d entries)", ev.Name, table.Len())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[watch] error: %v", err)
			}
		}
	}()

	return nil
}
