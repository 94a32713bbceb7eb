// Package control implements the external control channel: a plain TCP
// endpoint on the master where outside tools send line-delimited messages
// that the application interprets (for example "size 75" or "graph 1").
// Control traffic never touches the frame barrier.
package control

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// MessageFunc receives one control message, without the trailing newline.
// Invoked from the connection's reader goroutine.
type MessageFunc func(msg string)

// StatusFunc is notified when a controller connects or disconnects.
type StatusFunc func(connected bool)

// Server accepts external control connections.
type Server struct {
	log       hclog.Logger
	onMessage MessageFunc
	onStatus  StatusFunc

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a control server. Either callback may be nil.
func NewServer(log hclog.Logger, onMessage MessageFunc, onStatus StatusFunc) *Server {
	return &Server{
		log:       log.Named("control"),
		onMessage: onMessage,
		onStatus:  onStatus,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Start begins accepting controllers on addr.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control: listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("control: server closed")
	}
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("external control listening", "address", ln.Addr().String())
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops accepting, drops all controllers, and joins the readers.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Error("control accept failed", "error", err)
			}
			return
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.log.Info("external control connected", "remote", c.RemoteAddr())
		if s.onStatus != nil {
			s.onStatus(true)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.readLoop(c)
		}()
	}
}

func (s *Server) readLoop(c net.Conn) {
	scanner := bufio.NewScanner(c)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.log.Debug("control message", "message", line, "size", len(line))
		if s.onMessage != nil {
			s.onMessage(line)
		}
	}
	c.Close()
	s.mu.Lock()
	delete(s.conns, c)
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.log.Info("external control disconnected", "remote", c.RemoteAddr())
		if s.onStatus != nil {
			s.onStatus(false)
		}
	}
}
