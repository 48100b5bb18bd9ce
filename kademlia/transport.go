package kademlia

import (
	"crypto/rand"
	"net"
	"time"

	"github.com/google/uuid"
)

// Datagram is a single received UDP packet and the address it came from.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// Transport is the external collaborator that performs datagram I/O. The
// protocol engine depends only on this interface; net.UDPConn is one
// implementation among possibly several (e.g. an in-memory fake for tests).
type Transport interface {
	// Recv blocks until a datagram arrives or the transport is closed, in
	// which case it returns a non-nil error.
	Recv() (Datagram, error)
	// Send writes b to addr. Send failures are logged by the caller and
	// never retried.
	Send(b []byte, addr *net.UDPAddr) error
	Close() error
}

// UDPTransport is the default Transport, backed by a bound net.UDPConn.
type UDPTransport struct {
	conn       *net.UDPConn
	recvBuffer int
}

// NewUDPTransport binds a UDP socket on the given port (all interfaces) and
// returns a Transport reading with a receive buffer of recvBufferBytes,
// which must be large enough for the largest expected reply (a full
// bucket's worth of encoded contacts).
func NewUDPTransport(port int, recvBufferBytes int) (*UDPTransport, error) {
	if recvBufferBytes <= 0 {
		recvBufferBytes = 1200
	}
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	return &UDPTransport{conn: conn, recvBuffer: recvBufferBytes}, nil
}

// LocalAddr returns the address the transport is bound to.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *UDPTransport) Recv() (Datagram, error) {
	buf := make([]byte, t.recvBuffer)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return Datagram{}, err
	}
	return Datagram{Data: buf[:n], Addr: addr}, nil
}

func (t *UDPTransport) Send(b []byte, addr *net.UDPAddr) error {
	_, err := t.conn.WriteToUDP(b, addr)
	return err
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// Clock abstracts time so that bucket-expiry deadlines can be tested
// deterministically. MonotonicClock wraps the real clock; FakeClock is a
// settable clock for tests.
type Clock interface {
	Now() time.Time
}

// MonotonicClock returns time.Now(), whose Go runtime value already carries
// a monotonic reading alongside the wall-clock reading, which is all that
// deadline comparisons in the bucket state machine need.
type MonotonicClock struct{}

func (MonotonicClock) Now() time.Time { return time.Now() }

// FakeClock is a manually-advanced Clock for deterministic tests of probe
// deadlines and KV expiry, mirroring the rhythm of the original Python
// test suite's time.sleep-then-assert pattern without an actual sleep.
type FakeClock struct {
	now time.Time
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time { return c.now }

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// IDGenerator produces the random byte strings the protocol needs: 32-byte
// node identifiers and 16-byte transaction ids.
type IDGenerator interface {
	NewNodeID() ID
	NewTransactionID() [16]byte
}

// CryptoRandIDGenerator draws node ids from crypto/rand and uses the 16
// bytes of a google/uuid version-4 UUID as the transaction id: 122 of its
// bits come from crypto/rand, the 6 version and variant bits are fixed.
type CryptoRandIDGenerator struct{}

func (CryptoRandIDGenerator) NewNodeID() ID {
	var id ID
	_, _ = rand.Read(id[:])
	return id
}

func (CryptoRandIDGenerator) NewTransactionID() [16]byte {
	u := uuid.New()
	var txid [16]byte
	copy(txid[:], u[:])
	return txid
}
