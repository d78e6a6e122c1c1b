package loopback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"loopauth/pkg/logging"
)

const subsystem = "Listener"

// DrainTimeout bounds how long Close waits in the background for in-flight
// responses before forcibly closing their connections.
const DrainTimeout = 5 * time.Second

var (
	// ErrNoCandidates is returned by Bind when the candidate list is empty.
	ErrNoCandidates = errors.New("no candidate ports configured")

	// ErrPortsExhausted is returned by Bind when every candidate is in use.
	ErrPortsExhausted = errors.New("all candidate ports are in use")

	// ErrClosed is returned by Bind when the listener was closed before or
	// during the attempt sequence.
	ErrClosed = errors.New("listener closed")

	// ErrAlreadyBound is returned when Bind is called twice.
	ErrAlreadyBound = errors.New("listener already bound")
)

// State is the lifecycle state of a Listener.
type State int

const (
	StateUnbound State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Listener serves an http.Handler on the first free loopback port out of an
// ordered candidate list. It moves through unbound -> bound -> closed and
// never goes back.
type Listener struct {
	server *http.Server

	mu       sync.Mutex
	state    State
	binding  bool
	listener net.Listener
	port     int

	errCh   chan error
	drained chan struct{}
}

// New creates an unbound listener for handler.
func New(handler http.Handler) *Listener {
	return &Listener{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		errCh:   make(chan error, 1),
		drained: make(chan struct{}),
	}
}

// Bind tries each port in order on 127.0.0.1. An address-in-use failure moves
// on to the next candidate; any other failure stops immediately. On success
// the server starts serving in the background and Bind returns the index of
// the port used. On failure the listener ends up closed.
func (l *Listener) Bind(ctx context.Context, ports []int) (int, error) {
	if len(ports) == 0 {
		l.Close()
		return -1, ErrNoCandidates
	}

	l.mu.Lock()
	switch {
	case l.state == StateClosed:
		l.mu.Unlock()
		return -1, ErrClosed
	case l.state == StateBound || l.binding:
		l.mu.Unlock()
		return -1, ErrAlreadyBound
	}
	l.binding = true
	l.mu.Unlock()

	var lastErr error
	for i, port := range ports {
		if err := ctx.Err(); err != nil {
			l.Close()
			return -1, err
		}
		if l.State() == StateClosed {
			return -1, ErrClosed
		}

		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
		ln, err := listenConfig().Listen(ctx, "tcp", addr)
		if err != nil {
			if isAddrInUse(err) {
				logging.Debug(subsystem, "Port %d is in use, trying next candidate", port)
				lastErr = err
				continue
			}
			l.Close()
			return -1, fmt.Errorf("failed to bind %s: %w", addr, err)
		}

		if !l.commit(ln) {
			_ = ln.Close()
			return -1, ErrClosed
		}

		logging.Debug(subsystem, "Bound to %s (candidate %d of %d)", addr, i+1, len(ports))
		go l.serve(ln)
		return i, nil
	}

	l.Close()
	return -1, fmt.Errorf("%w: tried %v: %w", ErrPortsExhausted, ports, lastErr)
}

// commit records a freshly bound socket unless the listener was closed while
// it was being acquired.
func (l *Listener) commit(ln net.Listener) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.binding = false
	if l.state == StateClosed {
		return false
	}
	l.state = StateBound
	l.listener = ln
	l.port = ln.Addr().(*net.TCPAddr).Port
	return true
}

func (l *Listener) serve(ln net.Listener) {
	err := l.server.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) || l.State() == StateClosed {
		return
	}
	logging.Error(subsystem, err, "Server stopped unexpectedly")
	select {
	case l.errCh <- err:
	default:
	}
}

// Close stops accepting connections and releases the port before returning.
// Responses already being written are drained in the background. Close is
// safe to call in any state and more than once.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return nil
	}
	wasBound := l.state == StateBound
	l.state = StateClosed
	ln := l.listener
	l.mu.Unlock()

	if !wasBound {
		close(l.drained)
		return nil
	}

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	go func() {
		defer close(l.drained)
		ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
		defer cancel()
		if serr := l.server.Shutdown(ctx); serr != nil {
			_ = l.server.Close()
		}
	}()

	return err
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Port returns the bound port, or 0 if Bind never succeeded.
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// Addr returns the bound address, or nil if Bind never succeeded.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Errors delivers at most one unexpected serve error.
func (l *Listener) Errors() <-chan error {
	return l.errCh
}

// Drained is closed once Close has finished draining connections.
func (l *Listener) Drained() <-chan struct{} {
	return l.drained
}
