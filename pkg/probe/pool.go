// Package probe implements the connection pool and per-action polling sessions that
// drive the virtual device stubs over the framed TCP wire protocol, with a
// context-aware retry-with-backoff dial and call path.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"rasc/pkg/wire"
)

// DefaultRPCTimeout bounds a single request/response round trip.
const DefaultRPCTimeout = 5 * time.Second

var (
	// ErrConnectionClosed is returned when a call is attempted on a pool entry whose
	// connection has already been torn down.
	ErrConnectionClosed = errors.New("probe: connection closed")
)

// deviceConn is one pooled connection to a device stub, guarded by its own breaker so
// a wedged device cannot starve RPC attempts to every other device.
type deviceConn struct {
	mu      sync.Mutex
	conn    net.Conn
	breaker *gobreaker.CircuitBreaker
	enc     wire.Encoding
}

// Pool holds one connection per "host:port" target, dialed lazily on first use.
type Pool struct {
	mu    sync.Mutex
	dial  func(ctx context.Context, addr string) (net.Conn, error)
	conns map[string]*deviceConn
}

// NewPool constructs a connection pool. A nil dialer uses net.Dialer.DialContext.
func NewPool(dial func(ctx context.Context, addr string) (net.Conn, error)) *Pool {
	if dial == nil {
		dialer := &net.Dialer{}
		dial = dialer.DialContext
	}

	return &Pool{dial: dial, conns: make(map[string]*deviceConn)}
}

// get returns the pooled connection for addr, dialing and wrapping it with a fresh
// circuit breaker the first time addr is seen.
func (p *Pool) get(ctx context.Context, addr string) (*deviceConn, error) {
	p.mu.Lock()
	existing, ok := p.conns[addr]
	p.mu.Unlock()

	if ok {
		return existing, nil
	}

	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("probe: dial %s: %w", addr, err)
	}

	dc := &deviceConn{
		conn: conn,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        addr,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
		}),
		enc: wire.JSONEncoding{},
	}

	p.mu.Lock()
	if existing, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		conn.Close()

		return existing, nil
	}

	p.conns[addr] = dc
	p.mu.Unlock()

	return dc, nil
}

// Close tears down every pooled connection. Best-effort: the first error is returned,
// but every connection is still attempted.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*deviceConn)
	p.mu.Unlock()

	var firstErr error

	for _, dc := range conns {
		if err := dc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Call issues {tag: {method: args}} against addr and returns the decoded response,
// dialing lazily and running the round trip through addr's breaker.
func (p *Pool) Call(ctx context.Context, addr, tag, method string, args any) (map[string]any, error) {
	dc, err := p.get(ctx, addr)
	if err != nil {
		return nil, err
	}

	request := map[string]any{tag: map[string]any{method: args}}

	body, err := dc.enc.Encode(request)
	if err != nil {
		return nil, fmt.Errorf("probe: encode request: %w", err)
	}

	result, err := dc.breaker.Execute(func() (any, error) {
		return dc.roundTrip(ctx, body)
	})
	if err != nil {
		return nil, err
	}

	payload, _ := result.([]byte)

	var response map[string]any
	if err := dc.enc.Decode(payload, &response); err != nil {
		return nil, fmt.Errorf("probe: decode response: %w", err)
	}

	return response, nil
}

func (dc *deviceConn) roundTrip(ctx context.Context, body []byte) ([]byte, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	deadline := time.Now().Add(DefaultRPCTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := dc.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("probe: set deadline: %w", err)
	}

	if err := wire.WriteFrame(dc.conn, body); err != nil {
		return nil, fmt.Errorf("probe: write frame: %w", err)
	}

	payload, err := wire.ReadFrame(dc.conn)
	if err != nil {
		return nil, fmt.Errorf("probe: read frame: %w", err)
	}

	return payload, nil
}
