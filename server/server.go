package server

import (
	"bufio"
	"fmt"
	"image"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nixxel-company-limited/labelprinter/adapter"
	"github.com/nixxel-company-limited/labelprinter/label"
)

// LineSeparator splits one request into several lines on the same label
const LineSeparator = "|"

// Renderer turns lines of text into a label image
type Renderer interface {
	Render(lines ...string) (*image.Gray, error)
}

// Server is a TCP label server. Clients send one label per line of text and
// receive "OK <status>" or "ERR <reason>" for each.
type Server struct {
	adapter  adapter.Adapter
	printer  *label.Printer
	renderer Renderer
	listener net.Listener
	conns    map[net.Conn]struct{}
	address  string
	mu       sync.Mutex
	running  bool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a new server instance printing through device
func New(device adapter.Adapter, renderer Renderer, opts label.Options, address string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")

	return &Server{
		adapter:  device,
		printer:  label.New(device, opts, logger),
		renderer: renderer,
		conns:    make(map[net.Conn]struct{}),
		address:  address,
		logger:   logger,
	}
}

// Start starts the TCP server and blocks until Stop is called
func (s *Server) Start() error {
	if err := s.listen(); err != nil {
		return err
	}

	s.logger.Info("ready to accept connections")
	s.acceptConnections()

	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking)
func (s *Server) StartAsync() error {
	if err := s.listen(); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptConnections()
	}()
	s.logger.Info("server started in background")

	return nil
}

// listen opens the listener and the printer adapter
func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Error("failed to start server", zap.Error(err))
		return fmt.Errorf("failed to start server: %w", err)
	}

	// Open the adapter if not already open
	if !s.adapter.IsOpen() {
		if err := s.adapter.Open(); err != nil {
			listener.Close()
			s.logger.Error("failed to open adapter", zap.Error(err))
			return fmt.Errorf("failed to open adapter: %w", err)
		}
		s.logger.Info("printer adapter opened")
	}

	s.listener = listener
	s.running = true
	s.logger.Info("server listening", zap.String("address", listener.Addr().String()))

	return nil
}

// acceptConnections handles incoming client connections
func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()

			if !running {
				s.logger.Debug("server shutting down, stopping accept loop")
				return
			}
			s.logger.Warn("error accepting connection", zap.Error(err))
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}

		go s.handleConnection(conn)
	}
}

// handleConnection prints one label per received line
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	logger := s.logger.With(zap.String("client", conn.RemoteAddr().String()))
	logger.Info("client connected")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		reply := s.printText(text, logger)
		if _, err := fmt.Fprintln(conn, reply); err != nil {
			logger.Warn("error replying to client", zap.Error(err))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("error reading from client", zap.Error(err))
	}
	logger.Info("client disconnected")
}

// track registers an active connection so Stop can close and wait for it.
// It refuses connections accepted after Stop began.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

// untrack closes a connection and forgets it
func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// printText renders and prints one request and formats the reply
func (s *Server) printText(text string, logger *zap.Logger) string {
	lines := strings.Split(text, LineSeparator)

	img, err := s.renderer.Render(lines...)
	if err != nil {
		logger.Warn("failed to render label", zap.Error(err))
		return "ERR " + err.Error()
	}

	status, err := s.printer.PrintImage(img)
	if err != nil {
		logger.Error("failed to print label", zap.Error(err))
		return "ERR " + err.Error()
	}

	logger.Info("printed label", zap.Strings("lines", lines))
	return "OK " + status.String()
}

// Stop stops the TCP server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}

	s.logger.Info("stopping server")
	s.running = false
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	// Unblock handlers waiting on idle clients
	for _, conn := range conns {
		conn.Close()
	}

	// Wait for all connections to finish
	s.wg.Wait()

	// Close the adapter
	if s.adapter.IsOpen() {
		if err := s.adapter.Close(); err != nil {
			s.logger.Error("error closing adapter", zap.Error(err))
			return err
		}
		s.logger.Info("printer adapter closed")
	}

	s.logger.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the server address
func (s *Server) Address() string {
	return s.address
}

// ListenAddr returns the address the listener is bound to, or nil when the
// server is not running
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	return s.listener.Addr()
}

// Printer returns the label session the server prints through
func (s *Server) Printer() *label.Printer {
	return s.printer
}
