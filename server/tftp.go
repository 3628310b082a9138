package server

import (
	"fmt"
	"io"
	"log"
	"path"
	"time"

	tftp "github.com/pin/tftp/v3"
)

// StartTFTP serves the same tree read-only over TFTP. Only regular files
// can be fetched; write requests are refused by the library since no
// write handler is installed.
func (s *Server) StartTFTP(addr string) (*tftp.Server, error) {
	if addr == "" {
		return nil, fmt.Errorf("tftp: empty address")
	}

	srv := tftp.NewServer(s.tftpReadHandler, nil)
	srv.SetTimeout(5 * time.Second)

	go func() {
		log.Printf("[tftp] listening on %s, serving %s", addr, s.opts.WebRoot)
		if err := srv.ListenAndServe(addr); err != nil {
			log.Printf("[tftp] server error: %v", err)
		}
	}()
	return srv, nil
}

// tftpReadHandler resolves filename through the current pipeline. Unlike
// TCP requests the name is cleaned first, so it cannot leave the root.
func (s *Server) tftpReadHandler(filename string, rf io.ReaderFrom) error {
	resolver := s.pipeline.Load().Resolver
	clean := path.Clean("/" + filename)

	f, ok := resolver.Resolve(clean).(RegularFile)
	if !ok {
		log.Printf("[tftp] %s: not a regular file", clean)
		return fmt.Errorf("%s: not found", clean)
	}

	if ot, ok := rf.(tftp.OutgoingTransfer); ok {
		ot.SetSize(f.SizeBytes)
	}

	file, err := resolver.Filesystem().Open(f.AbsolutePath)
	if err != nil {
		return err
	}
	defer file.Close()

	n, err := rf.ReadFrom(file)
	if err != nil {
		log.Printf("[tftp] %s: transfer failed after %d bytes: %v", clean, n, err)
		return err
	}
	log.Printf("[tftp] %s: sent %d bytes", clean, n)
	return nil
}
