// Package kademlia implements the core of a single Kademlia-style DHT node:
// the XOR-metric routing table with its k-bucket probe-before-evict state
// machine, the closest-nodes lookup over that table, the TTL-indexed local
// key/value store, and the binary request/response protocol engine that
// drives and is driven by the other three.
//
// What's here
// -----------
//
//	id.go            256-bit identifier algebra: XOR distance, leading-zero
//	                 count, bucket index.
//	contact.go       Contact type and its 38-byte wire encoding.
//	store.go         TTL-indexed key/value store.
//	bucket.go        Single k-bucket: live contacts plus the pending
//	                 probe-before-evict queue.
//	routingtable.go  RoutingTable: Update/Closest/Tick over 256 buckets.
//	protocol.go      Fixed 49-byte header parsing/building, opcode table.
//	server.go        Dispatch engine: parse -> handle -> reply -> routing
//	                 table feed -> optional probe.
//	transport.go     Transport/Clock/IDGenerator collaborator interfaces and
//	                 their default (UDP / monotonic / crypto-rand)
//	                 implementations.
//
// Out of scope (external collaborators, consumed through the interfaces
// above but not implemented as part of the core beyond the defaults this
// package happens to ship): command-line argument parsing (see
// cmd/kademliad), the iterative client-side FIND_NODE/FIND_VALUE lookup
// loop, periodic republishing, an out-of-band bulk-transfer channel for
// oversized values, NAT traversal, authentication, encryption, IPv6,
// persistence across restarts, and replication-factor enforcement.
package kademlia
