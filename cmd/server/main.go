package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go-static/server"

	"github.com/dustin/go-humanize"
	tftp "github.com/pin/tftp/v3"
)

type MimeRule struct {
	Ext  string `json:"ext"`
	Type string `json:"type"`
}

type StaticServerConfig struct {
	Addr    string `json:"addr"`
	WebRoot string `json:"web_root"`

	ReadBufferSize  int `json:"read_buffer_size"`
	MaxRequestBytes int `json:"max_request_bytes"`
	WriteChunkSize  int `json:"write_chunk_size"`
	ReadTimeoutMs   int `json:"read_timeout_ms"`
	WriteTimeoutMs  int `json:"write_timeout_ms"`

	LineEnding         string `json:"line_ending"`
	NotFoundStatus     bool   `json:"not_found_status"`
	ListingContentType bool   `json:"listing_content_type"`
	SafePaths          bool   `json:"safe_paths"`
	ReusePort          bool   `json:"reuse_port"`

	HotReload         bool       `json:"hot_reload"`
	Verbose           bool       `json:"verbose"`
	MetricsIntervalMs int        `json:"metrics_interval_ms"`
	TFTPAddr          string     `json:"tftp_addr"`
	MimeTypes         []MimeRule `json:"mime_types"`
}

// defaultConfig returns the settings used when go_static.json is
// missing or a field is invalid.
func defaultConfig() *StaticServerConfig {
	return &StaticServerConfig{
		Addr:            ":8080",
		WebRoot:         defaultWebRoot(),
		ReadBufferSize:  server.DefaultReadBufferSize,
		MaxRequestBytes: server.DefaultMaxRequestBytes,
		WriteChunkSize:  server.DefaultChunkSize,
		LineEnding:      "lf",
	}
}

// defaultWebRoot is $PWD, falling back to the process working directory.
func defaultWebRoot() string {
	if pwd := os.Getenv("PWD"); pwd != "" {
		return pwd
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// loadConfig reads cfgPath; falls back to defaults on any error.
func loadConfig(cfgPath string) *StaticServerConfig {
	cfg, err := readConfigFile(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] no config found at %s, using defaults", cfgPath)
		return defaultConfig()
	}
	if err != nil {
		log.Printf("[config] invalid config (%s), using defaults: %v", cfgPath, err)
		return defaultConfig()
	}
	return cfg
}

// readConfigFile decodes cfgPath over the defaults and repairs invalid
// fields. Only unreadable or undecodable files are errors.
func readConfigFile(cfgPath string) (*StaticServerConfig, error) {
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	validateConfig(cfg)
	return cfg, nil
}

func validateConfig(cfg *StaticServerConfig) {
	def := defaultConfig()

	if cfg.Addr == "" {
		log.Printf("[config] addr is empty, falling back to %s", def.Addr)
		cfg.Addr = def.Addr
	}
	if cfg.WebRoot == "" {
		log.Printf("[config] web_root is empty, falling back to %s", def.WebRoot)
		cfg.WebRoot = def.WebRoot
	}

	if cfg.ReadBufferSize <= 0 {
		log.Printf("[config] read_buffer_size=%d is invalid, falling back to %d", cfg.ReadBufferSize, def.ReadBufferSize)
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.MaxRequestBytes < cfg.ReadBufferSize {
		log.Printf("[config] max_request_bytes=%d is smaller than read_buffer_size, falling back to %d", cfg.MaxRequestBytes, def.MaxRequestBytes)
		cfg.MaxRequestBytes = def.MaxRequestBytes
	}
	if cfg.WriteChunkSize <= 0 {
		log.Printf("[config] write_chunk_size=%d is invalid, falling back to %d", cfg.WriteChunkSize, def.WriteChunkSize)
		cfg.WriteChunkSize = def.WriteChunkSize
	}

	if cfg.ReadTimeoutMs < 0 {
		log.Printf("[config] read_timeout_ms=%d is invalid, disabling the read timeout", cfg.ReadTimeoutMs)
		cfg.ReadTimeoutMs = 0
	}
	if cfg.WriteTimeoutMs < 0 {
		log.Printf("[config] write_timeout_ms=%d is invalid, disabling the write timeout", cfg.WriteTimeoutMs)
		cfg.WriteTimeoutMs = 0
	}
	if cfg.MetricsIntervalMs < 0 {
		log.Printf("[config] metrics_interval_ms=%d is invalid, disabling periodic metrics", cfg.MetricsIntervalMs)
		cfg.MetricsIntervalMs = 0
	}

	if _, err := server.ParseLineEnding(cfg.LineEnding); err != nil {
		log.Printf("[config] %v, falling back to %q", err, def.LineEnding)
		cfg.LineEnding = def.LineEnding
	}

	rules := cfg.MimeTypes[:0]
	for i, rule := range cfg.MimeTypes {
		if strings.TrimPrefix(rule.Ext, ".") == "" || rule.Type == "" {
			log.Printf("[config] mime_types[%d]=%+v is incomplete, ignoring it", i, rule)
			continue
		}
		rules = append(rules, rule)
	}
	cfg.MimeTypes = rules
}

// applyEnv lets the environment override the listen address and web root.
func applyEnv(cfg *StaticServerConfig, getenv func(string) string) {
	if addr := getenv("STATIC_SERVER_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if root := getenv("STATIC_WEB_ROOT"); root != "" {
		cfg.WebRoot = root
	}
}

// applyArgs handles the positional "[port] [webroot]" usage.
func applyArgs(cfg *StaticServerConfig, args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("too many arguments: %q", args)
	}
	if len(args) >= 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[0])
		}
		cfg.Addr = ":" + strconv.Itoa(port)
	}
	if len(args) == 2 {
		cfg.WebRoot = args[1]
	}
	return nil
}

func buildMimeTable(cfg *StaticServerConfig) *server.MimeTable {
	if len(cfg.MimeTypes) == 0 {
		return server.DefaultMimeTable()
	}
	overrides := make([]server.MimeEntry, 0, len(cfg.MimeTypes))
	for _, rule := range cfg.MimeTypes {
		overrides = append(overrides, server.MimeEntry{Ext: rule.Ext, Type: rule.Type})
	}
	return server.DefaultMimeTable().WithOverrides(overrides)
}

func serverOptions(cfg *StaticServerConfig) (server.Options, error) {
	eol, err := server.ParseLineEnding(cfg.LineEnding)
	if err != nil {
		return server.Options{}, err
	}
	return server.Options{
		WebRoot:            cfg.WebRoot,
		Addr:               cfg.Addr,
		ReadBufferSize:     cfg.ReadBufferSize,
		MaxRequestBytes:    cfg.MaxRequestBytes,
		WriteChunkSize:     cfg.WriteChunkSize,
		ReadTimeout:        time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:       time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
		LineEnding:         eol,
		NotFoundStatus:     cfg.NotFoundStatus,
		ListingContentType: cfg.ListingContentType,
		SafePaths:          cfg.SafePaths,
		ReusePort:          cfg.ReusePort,
		Verbose:            cfg.Verbose,
	}, nil
}

func newStaticServer(cfg *StaticServerConfig) (*server.Server, error) {
	opts, err := serverOptions(cfg)
	if err != nil {
		return nil, err
	}
	return server.NewServer(opts, buildMimeTable(cfg))
}

func logMetrics(m *server.Metrics) {
	b, err := json.Marshal(m.Snapshot())
	if err != nil {
		log.Printf("[metrics] marshal error: %v", err)
		return
	}
	log.Printf("[metrics] %s", b)
}

// summary is the one-line human form of a metrics snapshot.
func summary(m server.Metrics) string {
	return fmt.Sprintf("served %s connections, %s written, %s errors",
		humanize.Comma(int64(m.TotalRequests)), humanize.Bytes(uint64(m.BytesWritten)), humanize.Comma(int64(m.TotalErrors)))
}

func main() {
	cfgPath := flag.String("config", "go_static.json", "path to the JSON config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] [port] [webroot]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := loadConfig(*cfgPath)
	applyEnv(cfg, os.Getenv)
	if err := applyArgs(cfg, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	srv, err := newStaticServer(cfg)
	if err != nil {
		log.Fatalf("[server] init error: %v", err)
	}
	if err := srv.Listen(); err != nil {
		log.Fatalf("[server] listen error: %v", err)
	}

	if cfg.HotReload {
		reload := func() (*server.MimeTable, error) {
			next, err := readConfigFile(*cfgPath)
			if err != nil {
				return nil, err
			}
			return buildMimeTable(next), nil
		}
		if err := srv.EnableHotReload(*cfgPath, reload); err != nil {
			log.Printf("[watch] hot reload disabled: %v", err)
		}
	}

	var tftpSrv *tftp.Server
	if cfg.TFTPAddr != "" {
		if tftpSrv, err = srv.StartTFTP(cfg.TFTPAddr); err != nil {
			log.Printf("[tftp] not started: %v", err)
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.MetricsIntervalMs > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.MetricsIntervalMs) * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					logMetrics(srv.Metrics())
				}
			}
		}()
	}

	// Graceful shutdown on SIGINT/SIGTERM
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		<-shutdownCh
		log.Println("[shutdown] signal received, closing listener and draining connections...")
		stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if tftpSrv != nil {
			tftpSrv.Shutdown()
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[shutdown] server shutdown error: %v", err)
		} else {
			log.Println("[shutdown] server shut down cleanly")
		}
		logMetrics(srv.Metrics())
		log.Printf("[shutdown] %s", summary(srv.Metrics().Snapshot()))
	}()

	opts := srv.Options()
	log.Println("=============================================")
	log.Printf(" go-static listening on %s", srv.Addr())
	log.Println("=============================================")
	log.Printf(" Web root: %s", opts.WebRoot)
	log.Printf(" Read buffer: %s (max request %s)", humanize.IBytes(uint64(opts.ReadBufferSize)), humanize.IBytes(uint64(opts.MaxRequestBytes)))
	log.Printf(" Write chunk: %s", humanize.IBytes(uint64(opts.WriteChunkSize)))
	log.Printf(" Timeouts: read=%v write=%v", opts.ReadTimeout, opts.WriteTimeout)
	log.Printf(" Line ending: %s", opts.LineEnding)
	log.Printf(" 404 for missing: %v, listing Content-Type: %v", opts.NotFoundStatus, opts.ListingContentType)
	log.Printf(" Safe paths: %v, reuse port: %v", opts.SafePaths, opts.ReusePort)
	log.Printf(" MIME types: %d entries (%d from config)", srv.Pipeline().Resolver.MimeTable().Len(), len(cfg.MimeTypes))
	if cfg.HotReload {
		log.Printf(" Hot reload: watching %s", *cfgPath)
	}
	if tftpSrv != nil {
		log.Printf(" TFTP: %s", cfg.TFTPAddr)
	}
	log.Println("=============================================")

	if err := srv.Serve(); err != nil && !errors.Is(err, server.ErrServerClosed) {
		log.Fatalf("[server] serve error: %v", err)
	}
	<-drained
}
