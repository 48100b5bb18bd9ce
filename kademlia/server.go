package kademlia

import (
	"net"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// ServerConfig bundles the knobs a Server needs beyond its collaborators.
type ServerConfig struct {
	// MaxReplyContacts caps how many contacts a FIND_NODE_REPLY /
	// FIND_VALUE fallback carries. Default DefaultBucketSize.
	MaxReplyContacts int
	// MaxInlineValueSize is the largest value that fits in a
	// SMALL_VALUE_FOUND reply before the server instead answers
	// LARGE_VALUE_FOUND. Default MaxDatagramSize - HeaderSize.
	MaxInlineValueSize int
	// Workers is the size of the handler worker pool. Default
	// runtime.NumCPU().
	Workers int
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.MaxReplyContacts <= 0 {
		c.MaxReplyContacts = DefaultBucketSize
	}
	if c.MaxInlineValueSize <= 0 {
		c.MaxInlineValueSize = MaxDatagramSize - HeaderSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
		if c.Workers < 1 {
			c.Workers = 1
		}
	}
	return c
}

// Server is the protocol engine: it parses inbound datagrams, dispatches
// them to the matching handler, sends at most one reply, and, for every
// message that parsed and dispatched successfully, feeds the sender back
// into the routing table, optionally emitting a liveness-probe PING as a
// side effect. Too-short headers, wrong-length bodies and unknown opcodes
// get an ERROR reply and leave the routing table untouched.
type Server struct {
	SelfID ID

	transport Transport
	routing   *RoutingTable
	store     *Store
	idgen     IDGenerator
	cfg       ServerConfig
	log       *logrus.Entry

	wg sync.WaitGroup
}

// NewServer wires a protocol engine over the given collaborators.
func NewServer(selfID ID, transport Transport, routing *RoutingTable, store *Store, idgen IDGenerator, cfg ServerConfig, log *logrus.Entry) *Server {
	if idgen == nil {
		idgen = CryptoRandIDGenerator{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Server{
		SelfID:    selfID,
		transport: transport,
		routing:   routing,
		store:     store,
		idgen:     idgen,
		cfg:       cfg.withDefaults(),
		log:       log.WithField("self", selfID.String()[:8]),
	}
}

// Serve runs the receive loop until the transport returns an error (e.g. on
// Close), dispatching each datagram to a bounded pool of worker goroutines
// that share the routing table and store. It returns the transport's
// terminal error.
func (s *Server) Serve() error {
	jobs := make(chan Datagram, s.cfg.Workers)
	var workers sync.WaitGroup
	workers.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		go func() {
			defer workers.Done()
			for dg := range jobs {
				s.handleDatagram(dg)
			}
		}()
	}

	var recvErr error
	for {
		dg, err := s.transport.Recv()
		if err != nil {
			recvErr = err
			break
		}
		jobs <- dg
	}
	close(jobs)
	workers.Wait()
	return recvErr
}

// handleDatagram runs one full request/response cycle: parse, dispatch,
// reply, then the routing-table feed for successfully dispatched messages.
// Responses are sent
// before the routing-table side effect, so a slow Update never delays the
// reply the sender is waiting on.
func (s *Server) handleDatagram(dg Datagram) {
	msg, err := ParseMessage(dg.Data)
	if err != nil {
		s.sendError(dg.Addr, zeroTxID, "header is too short")
		return
	}

	reply, updateRouting := s.dispatch(msg, dg.Addr)
	if reply != nil {
		if sendErr := s.transport.Send(reply, dg.Addr); sendErr != nil {
			s.log.WithError(sendErr).Warn("send failed")
		}
	}

	if !updateRouting {
		return
	}
	s.observeSender(msg, dg.Addr)
}

// dispatch validates and executes one opcode's handler. It returns the
// datagram to send (nil for none) and whether the sender should be folded
// into the routing table afterwards.
func (s *Server) dispatch(msg Message, src *net.UDPAddr) (reply []byte, updateRouting bool) {
	switch msg.Opcode {
	case OpPing:
		return s.replyPong(msg), true

	case OpPong:
		return nil, true

	case OpFindNode:
		key, err := DecodeKeyBody(msg.Body)
		if err != nil {
			return s.errorReply(msg, "key is wrong length"), false
		}
		return s.replyFindNode(msg, key), true

	case OpFindValue:
		key, err := DecodeKeyBody(msg.Body)
		if err != nil {
			return s.errorReply(msg, "key is wrong length"), false
		}
		return s.replyFindValue(msg, key), true

	case OpStore:
		key, value, err := DecodeStoreBody(msg.Body)
		if err != nil {
			return s.errorReply(msg, "store body is too short"), false
		}
		s.store.Put(key, value)
		return BuildMessage(OpStoreSuccess, s.SelfID, msg.TxID, nil), true

	case OpError, OpStoreSuccess, OpStoreFailure, OpFindNodeReply, OpSmallValueFound, OpLargeValueFound:
		// One-way notifications / replies: consumed only, never answered.
		return nil, true

	default:
		return s.errorReply(msg, "unknown message type"), false
	}
}

func (s *Server) replyPong(msg Message) []byte {
	return BuildMessage(OpPong, s.SelfID, msg.TxID, nil)
}

func (s *Server) replyFindNode(msg Message, key ID) []byte {
	contacts := s.closestExcluding(key, msg.Sender)
	return BuildMessage(OpFindNodeReply, s.SelfID, msg.TxID, EncodeContacts(contacts))
}

func (s *Server) replyFindValue(msg Message, key ID) []byte {
	if value, ok := s.store.Get(key); ok {
		if len(value) <= s.cfg.MaxInlineValueSize {
			return BuildMessage(OpSmallValueFound, s.SelfID, msg.TxID, value)
		}
		return BuildMessage(OpLargeValueFound, s.SelfID, msg.TxID, nil)
	}
	return s.replyFindNode(msg, key)
}

// closestExcluding returns up to MaxReplyContacts contacts closest to key,
// omitting the requester's own id if the table happens to carry it.
func (s *Server) closestExcluding(key, exclude ID) []Contact {
	found := s.routing.Closest(key, s.cfg.MaxReplyContacts+1)
	out := make([]Contact, 0, len(found))
	for _, c := range found {
		if c.ID.Equal(exclude) {
			continue
		}
		out = append(out, c)
		if len(out) == s.cfg.MaxReplyContacts {
			break
		}
	}
	return out
}

func (s *Server) errorReply(msg Message, text string) []byte {
	return BuildMessage(OpError, s.SelfID, msg.TxID, []byte(text))
}

func (s *Server) sendError(addr *net.UDPAddr, txid [16]byte, text string) {
	reply := BuildMessage(OpError, s.SelfID, txid, []byte(text))
	if err := s.transport.Send(reply, addr); err != nil {
		s.log.WithError(err).Warn("send failed")
	}
}

// observeSender feeds the sender of any successfully-dispatched message
// back into the routing table and, if the table asks for a liveness probe
// of an evicted victim, fires a PING at it. The server records nothing
// further about this PING: the forthcoming PONG will refresh the victim
// naturally through this same handler, and silence lets Tick/the next
// Update complete the eviction.
func (s *Server) observeSender(msg Message, src *net.UDPAddr) {
	ip := src.IP.To4()
	if ip == nil {
		ip = net.IPv4zero.To4()
	}
	contact := Contact{ID: msg.Sender, IP: ip, Port: uint16(src.Port)}

	victim, shouldProbe := s.routing.Update(contact)
	if !shouldProbe {
		return
	}
	s.probe(victim)
}

func (s *Server) probe(victim Contact) {
	txid := s.idgen.NewTransactionID()
	ping := BuildMessage(OpPing, s.SelfID, txid, nil)
	if err := s.transport.Send(ping, victim.Addr()); err != nil {
		s.log.WithError(err).WithField("victim", victim.ID.String()[:8]).Warn("probe send failed")
	}
}
