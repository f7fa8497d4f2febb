// Package transport defines the boundary to the SwapBytes network collaborators.
//
// The protocol engine consumes two delivery primitives: a point-to-point
// request/response channel and a topic-scoped broadcast channel. Real
// implementations (encryption, discovery, relaying) live outside this module;
// this package pins down the contract they must satisfy and ships an
// in-process loopback used by tests and examples.
//
// Broadcast deliveries carry the cryptographically verified original author
// separately from the last forwarding hop. Handlers that need to attribute a
// message to a peer must use the author; attributing to the forwarder is a
// correctness bug.
package transport

import (
	"context"
	"errors"

	"github.com/opd-ai/swapbytes/crypto"
	"github.com/opd-ai/swapbytes/protocol"
)

// ErrPeerUnreachable indicates the target peer could not be contacted.
var ErrPeerUnreachable = errors.New("peer unreachable")

// ErrRequestTimeout indicates no response arrived within the request deadline.
var ErrRequestTimeout = errors.New("request timed out")

// ErrAlreadyResponded indicates Respond was called more than once for a request.
var ErrAlreadyResponded = errors.New("request already responded to")

// Responder answers one inbound request. Respond must be called exactly once;
// a request left unanswered surfaces as a timeout on the remote side.
type Responder interface {
	Respond(pkt *protocol.Packet) error
}

// InboundRequest is a peer-directed request awaiting exactly one response.
type InboundRequest struct {
	From      crypto.PeerID
	Packet    *protocol.Packet
	Responder Responder
}

// RequestHandler processes one inbound request.
type RequestHandler func(req InboundRequest)

// RequestTransport is the point-to-point request/response collaborator.
type RequestTransport interface {
	// SendRequest sends one request and blocks for its correlated response.
	// It fails fast with ErrPeerUnreachable or ErrRequestTimeout.
	SendRequest(ctx context.Context, peer crypto.PeerID, pkt *protocol.Packet) (*protocol.Packet, error)

	// SetRequestHandler registers the single handler for inbound requests.
	SetRequestHandler(handler RequestHandler)

	// Close shuts the transport down.
	Close() error
}

// Delivery is one broadcast message handed up from the gossip substrate.
// Author is the verified original publisher; Forwarder is the last hop that
// relayed the message and may differ from Author.
type Delivery struct {
	Author    crypto.PeerID
	Forwarder crypto.PeerID
	Packet    *protocol.Packet
}

// DeliveryHandler processes one broadcast delivery.
type DeliveryHandler func(d Delivery)

// BroadcastTransport is the topic-scoped publish/subscribe collaborator.
type BroadcastTransport interface {
	// Publish sends a message to every subscriber of the topic.
	Publish(topic string, pkt *protocol.Packet) error

	// SetDeliveryHandler registers the single handler for inbound deliveries.
	SetDeliveryHandler(handler DeliveryHandler)
}

// Roster lists peers currently reachable on the overlay. It seeds the
// presence table; it is not authoritative for liveness.
type Roster interface {
	Peers() []crypto.PeerID
}

// Node bundles the collaborator capabilities the engine consumes.
type Node interface {
	RequestTransport
	BroadcastTransport
	Roster
}
