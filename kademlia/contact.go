package kademlia

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// ContactWireSize is the number of bytes a Contact occupies on the wire:
// 32-byte id, 4-byte IPv4 address, 2-byte port.
const ContactWireSize = IDLength + 4 + 2

// Contact is a peer known to this node: its identifier, its IPv4 endpoint,
// and the last time it was observed locally. Two contacts compare equal iff
// their node IDs match; IP, port, and LastSeen are not part of identity, so
// an older contact object is never displaced by a newer one that merely
// shares the same id (see RoutingTable.Update).
type Contact struct {
	ID       ID
	IP       net.IP // always a 4-byte (IPv4) address
	Port     uint16
	LastSeen time.Time
}

// NewContact builds a Contact for the given id and IPv4 endpoint. ip may be
// in 4-byte or 16-byte form; it is normalized to 4 bytes.
func NewContact(id ID, ip net.IP, port uint16) Contact {
	return Contact{ID: id, IP: ip.To4(), Port: port}
}

// Equal reports identity equality: same node id, regardless of address or
// last-seen time.
func (c Contact) Equal(other Contact) bool {
	return c.ID.Equal(other.ID)
}

// Addr renders the contact's UDP endpoint.
func (c Contact) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: c.IP, Port: int(c.Port)}
}

func (c Contact) String() string {
	return fmt.Sprintf("%s@%s:%d", c.ID.String(), c.IP.String(), c.Port)
}

// Encode writes the 38-byte wire encoding of c: id ‖ IPv4 (network byte
// order) ‖ port (big-endian). LastSeen is local state and is never
// transmitted.
func (c Contact) Encode() []byte {
	buf := make([]byte, ContactWireSize)
	copy(buf[0:IDLength], c.ID[:])
	ip4 := c.IP.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(buf[IDLength:IDLength+4], ip4)
	binary.BigEndian.PutUint16(buf[IDLength+4:ContactWireSize], c.Port)
	return buf
}

// DecodeContact parses a 38-byte wire-encoded contact. It fails if b is not
// exactly ContactWireSize bytes long.
func DecodeContact(b []byte) (Contact, error) {
	if len(b) != ContactWireSize {
		return Contact{}, fmt.Errorf("kademlia: contact frame has length %d, want %d", len(b), ContactWireSize)
	}
	var c Contact
	copy(c.ID[:], b[0:IDLength])
	ip := make(net.IP, 4)
	copy(ip, b[IDLength:IDLength+4])
	c.IP = ip
	c.Port = binary.BigEndian.Uint16(b[IDLength+4 : ContactWireSize])
	return c, nil
}

// EncodeContacts concatenates the wire encoding of every contact in order.
func EncodeContacts(contacts []Contact) []byte {
	buf := make([]byte, 0, len(contacts)*ContactWireSize)
	for _, c := range contacts {
		buf = append(buf, c.Encode()...)
	}
	return buf
}

// DecodeContacts splits b into ContactWireSize-byte chunks and decodes each.
// It fails if len(b) is not a multiple of ContactWireSize.
func DecodeContacts(b []byte) ([]Contact, error) {
	if len(b)%ContactWireSize != 0 {
		return nil, fmt.Errorf("kademlia: contact list has length %d, not a multiple of %d", len(b), ContactWireSize)
	}
	n := len(b) / ContactWireSize
	out := make([]Contact, 0, n)
	for i := 0; i < n; i++ {
		c, err := DecodeContact(b[i*ContactWireSize : (i+1)*ContactWireSize])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
