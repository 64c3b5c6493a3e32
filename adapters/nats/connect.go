// Package nats persists event streams, snapshots and views in NATS
// JetStream. Events live on one subject per aggregate with server-side
// last-sequence guards for optimistic concurrency; snapshots and views use
// JetStream key-value buckets with revision-guarded updates.
package nats

import (
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

// Conn is a leased NATS connection. Close releases the lease; a connection
// shared through ReuseConnection stays open until its last lease is released.
type Conn struct {
	nc      *natsgo.Conn
	release func()
}

// NATS exposes the underlying client connection.
func (c *Conn) NATS() *natsgo.Conn { return c.nc }

func (c *Conn) Close() {
	if c.release != nil {
		c.release()
	}
}

// Connector dials or leases a NATS connection on demand.
type Connector func() (*Conn, error)

// ConnectURL dials natsURL on every call; each returned Conn owns its own
// client connection. Extra options are applied after the defaults.
func ConnectURL(natsURL string, extra ...natsgo.Option) Connector {
	return func() (*Conn, error) {
		opts := make([]natsgo.Option, 0, len(extra)+2)
		opts = append(opts, natsgo.Name("cqrs"), natsgo.MaxReconnects(3))
		opts = append(opts, extra...)
		nc, err := natsgo.Connect(natsURL, opts...)
		if err != nil {
			return nil, err
		}
		return &Conn{nc: nc, release: nc.Close}, nil
	}
}

// ConnectDefault dials NATS_URL when set, the default NATS URL otherwise.
func ConnectDefault() Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL)
	}
	return ConnectURL(natsgo.DefaultURL)
}

// ReuseConnection hands out leases on one shared connection. The connection
// is dialed on first use and closed when the last outstanding lease is
// released; the next lease dials anew.
func ReuseConnection(connect Connector) Connector {
	s := &sharedConn{dial: connect}
	return s.lease
}

type sharedConn struct {
	mu     sync.Mutex
	dial   Connector
	conn   *Conn
	leases int
}

func (s *sharedConn) lease() (*Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		conn, err := s.dial()
		if err != nil {
			return nil, err
		}
		s.conn = conn
	}
	s.leases++
	return &Conn{nc: s.conn.nc, release: s.release}, nil
}

func (s *sharedConn) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases--; s.leases == 0 {
		s.conn.Close()
		s.conn = nil
	}
}
