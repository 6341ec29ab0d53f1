package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"dnshack/internal/metrics"
)

// MinBufferSize is the classic maximum size of a UDP message without EDNS.
const MinBufferSize = 512

var (
	// ErrOversized indicates a datagram larger than the receive buffer. It is dropped rather
	// than truncated.
	ErrOversized = errors.New("server: datagram exceeds receive buffer")

	// ErrNotListening indicates Serve was called before Listen.
	ErrNotListening = errors.New("server: not listening")
)

// Datagram is a single received packet and its sender.
type Datagram struct {
	Payload  []byte
	Source   net.Addr
	Received time.Time
}

// ServerHandler is a common interface that wraps logic for handling received datagrams.
type ServerHandler interface {
	// Handle describes the routine to run for each datagram. Replies and forwarded packets are
	// sent through the writer, which shares the server's socket.
	Handle(ctx context.Context, w PacketWriter, dgram Datagram) error

	// ConsumeError is a callback invoked when the server fails to receive a datagram, or when
	// the handler returns an error.
	ConsumeError(ctx context.Context, err error)
}

// UDPServer describes a server that listens on a single UDP socket.
type UDPServer struct {
	addr   string
	ioHook metrics.ConnectionIOHook
	opts   UDPServerOpts

	mutex    sync.Mutex
	conn     net.PacketConn
	draining bool
}

// UDPServerOpts formalizes UDP server configuration options.
type UDPServerOpts struct {
	// MaxConcurrentWorkers is the number of goroutines handling datagrams in parallel. Only
	// one goroutine ever reads from the socket.
	MaxConcurrentWorkers int
	// QueueSize is the number of received datagrams that may wait for a free worker. When the
	// queue is full, the receive loop blocks and further datagrams wait in the kernel's socket
	// buffer.
	QueueSize int
	// BufferSize is the largest datagram the server accepts. Larger datagrams are dropped and
	// reported as ErrOversized.
	BufferSize int
	// WriteTimeout is the maximum amount of time a worker may block sending a datagram.
	WriteTimeout time.Duration
}

// NewUDPServer creates a UDP server that will listen on the specified address.
func NewUDPServer(addr string, ioHook metrics.ConnectionIOHook, opts UDPServerOpts) *UDPServer {
	// Sane option defaults
	if opts.MaxConcurrentWorkers <= 0 {
		opts.MaxConcurrentWorkers = 16
	}

	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}

	if opts.BufferSize < MinBufferSize {
		opts.BufferSize = MinBufferSize
	}

	return &UDPServer{addr: addr, ioHook: ioHook, opts: opts}
}

// Listen binds the server's UDP socket.
func (s *UDPServer) Listen() error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen on UDP socket: addr=%s err=%w", s.addr, err)
	}

	s.mutex.Lock()
	s.conn = conn
	s.mutex.Unlock()

	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (s *UDPServer) LocalAddr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

// Serve reads datagrams until the server is shut down or closed, dispatching each to a worker.
// It returns once every worker has finished.
func (s *UDPServer) Serve(handler ServerHandler) error {
	s.mutex.Lock()
	conn := s.conn
	s.mutex.Unlock()

	if conn == nil {
		return ErrNotListening
	}

	ctx := context.Background()
	writer := NewUDPConn(conn, s.opts.WriteTimeout)
	queue := make(chan Datagram, s.opts.QueueSize)

	var workers sync.WaitGroup
	for i := 0; i < s.opts.MaxConcurrentWorkers; i++ {
		workers.Add(1)

		go func() {
			defer workers.Done()

			for dgram := range queue {
				if err := handler.Handle(ctx, writer, dgram); err != nil {
					handler.ConsumeError(ctx, err)
				}
			}
		}()
	}

	s.receive(ctx, conn, queue, handler)

	close(queue)
	workers.Wait()

	if s.isDraining() {
		return conn.Close()
	}

	return nil
}

// receive runs the receive loop until the socket is closed or the server starts draining.
func (s *UDPServer) receive(ctx context.Context, conn net.PacketConn, queue chan<- Datagram, handler ServerHandler) {
	// One spare byte distinguishes a datagram that exactly fills the buffer from one that was
	// cut short by it.
	buf := make([]byte, s.opts.BufferSize+1)

	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isDraining() {
				return
			}

			s.ioHook.EmitReadError(addr)
			handler.ConsumeError(ctx, fmt.Errorf("server: error reading datagram: err=%w", err))
			continue
		}

		if n > s.opts.BufferSize {
			s.ioHook.EmitOversized(addr)
			handler.ConsumeError(ctx, fmt.Errorf(
				"%w: source=%v limit=%d",
				ErrOversized,
				addr,
				s.opts.BufferSize,
			))
			continue
		}

		queue <- Datagram{
			Payload:  append([]byte(nil), buf[:n]...),
			Source:   addr,
			Received: time.Now(),
		}
	}
}

// ListenAndServe binds the socket and serves until it is closed. It returns an error if it fails
// to bind to the configured address.
func (s *UDPServer) ListenAndServe(handler ServerHandler) error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve(handler)
}

// Shutdown stops the receive loop without closing the socket, so that queued and in-flight
// datagrams can still be answered. Serve closes the socket and returns once the workers are done.
func (s *UDPServer) Shutdown() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn == nil {
		return ErrNotListening
	}

	s.draining = true

	// An expired deadline wakes the blocked read.
	return s.conn.SetReadDeadline(time.Now())
}

// Close closes the socket immediately. The receive loop ends, and any sends still attempted by
// in-flight workers fail.
func (s *UDPServer) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn == nil {
		return ErrNotListening
	}

	return s.conn.Close()
}

func (s *UDPServer) isDraining() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.draining
}
