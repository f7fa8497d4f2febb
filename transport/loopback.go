package transport

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/swapbytes/crypto"
	"github.com/opd-ai/swapbytes/protocol"
)

// inboxSize bounds the per-node delivery queue.
const inboxSize = 256

// Loopback is an in-process overlay connecting LoopbackNodes. Packets are
// serialized and reparsed on every hop so the wire codec is exercised end to
// end. Each node consumes its inbox on a single goroutine, which gives the
// per-peer ordering guarantee the protocol engine relies on.
type Loopback struct {
	mu    sync.RWMutex
	nodes map[crypto.PeerID]*LoopbackNode
}

// NewLoopback creates an empty in-process overlay.
func NewLoopback() *Loopback {
	return &Loopback{nodes: make(map[crypto.PeerID]*LoopbackNode)}
}

// Attach joins a peer to the overlay and returns its node.
func (l *Loopback) Attach(id crypto.PeerID) *LoopbackNode {
	node := &LoopbackNode{
		id:    id,
		hub:   l,
		inbox: make(chan func(), inboxSize),
		done:  make(chan struct{}),
	}
	go node.consume()

	l.mu.Lock()
	l.nodes[id] = node
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Attach",
		"peer":     id.Short(),
	}).Debug("Peer attached to loopback overlay")

	return node
}

// Relay injects a broadcast delivery whose forwarder differs from its author.
// It exists so tests can reproduce gossip forwarding without a real substrate.
func (l *Loopback) Relay(author, forwarder crypto.PeerID, pkt *protocol.Packet) {
	wire, err := pkt.Serialize()
	if err != nil {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, node := range l.nodes {
		if id == author || id == forwarder {
			continue
		}
		node.enqueueDelivery(author, forwarder, wire)
	}
}

func (l *Loopback) lookup(id crypto.PeerID) *LoopbackNode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nodes[id]
}

func (l *Loopback) detach(id crypto.PeerID) {
	l.mu.Lock()
	delete(l.nodes, id)
	l.mu.Unlock()
}

// LoopbackNode is one peer's endpoint on a Loopback overlay. It implements
// the Node interface.
type LoopbackNode struct {
	id  crypto.PeerID
	hub *Loopback

	mu              sync.RWMutex
	requestHandler  RequestHandler
	deliveryHandler DeliveryHandler

	inbox chan func()
	done  chan struct{}
	once  sync.Once
}

func (n *LoopbackNode) consume() {
	for fn := range n.inbox {
		fn()
	}
	close(n.done)
}

// PeerID returns the identity this node was attached with.
func (n *LoopbackNode) PeerID() crypto.PeerID {
	return n.id
}

// SetRequestHandler registers the single handler for inbound requests.
func (n *LoopbackNode) SetRequestHandler(handler RequestHandler) {
	n.mu.Lock()
	n.requestHandler = handler
	n.mu.Unlock()
}

// SetDeliveryHandler registers the single handler for inbound deliveries.
func (n *LoopbackNode) SetDeliveryHandler(handler DeliveryHandler) {
	n.mu.Lock()
	n.deliveryHandler = handler
	n.mu.Unlock()
}

// SendRequest sends one request and blocks for its correlated response or the
// context deadline.
func (n *LoopbackNode) SendRequest(ctx context.Context, peer crypto.PeerID, pkt *protocol.Packet) (*protocol.Packet, error) {
	target := n.hub.lookup(peer)
	if target == nil {
		logrus.WithFields(logrus.Fields{
			"function": "SendRequest",
			"from":     n.id.Short(),
			"to":       peer.Short(),
		}).Warn("Request target not attached")
		return nil, ErrPeerUnreachable
	}

	wire, err := pkt.Serialize()
	if err != nil {
		return nil, err
	}

	responseCh := make(chan *protocol.Packet, 1)
	queued := target.enqueueRequest(n.id, wire, responseCh)
	if !queued {
		return nil, ErrPeerUnreachable
	}

	select {
	case resp := <-responseCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ErrRequestTimeout
	}
}

// Publish delivers a message to every other attached node. The publisher is
// both author and forwarder on a direct hop.
func (n *LoopbackNode) Publish(topic string, pkt *protocol.Packet) error {
	_ = topic // single shared topic on the loopback overlay

	wire, err := pkt.Serialize()
	if err != nil {
		return err
	}

	n.hub.mu.RLock()
	defer n.hub.mu.RUnlock()
	for id, node := range n.hub.nodes {
		if id == n.id {
			continue
		}
		node.enqueueDelivery(n.id, n.id, wire)
	}
	return nil
}

// Peers lists the other peers currently attached to the overlay.
func (n *LoopbackNode) Peers() []crypto.PeerID {
	n.hub.mu.RLock()
	defer n.hub.mu.RUnlock()
	out := make([]crypto.PeerID, 0, len(n.hub.nodes))
	for id := range n.hub.nodes {
		if id != n.id {
			out = append(out, id)
		}
	}
	return out
}

// Close detaches the node and stops its inbox.
func (n *LoopbackNode) Close() error {
	n.once.Do(func() {
		n.hub.detach(n.id)
		close(n.inbox)
	})
	<-n.done
	return nil
}

func (n *LoopbackNode) enqueueRequest(from crypto.PeerID, wire []byte, responseCh chan *protocol.Packet) bool {
	defer func() { recover() }() // inbox may be closed concurrently

	n.inbox <- func() {
		n.mu.RLock()
		handler := n.requestHandler
		n.mu.RUnlock()
		if handler == nil {
			return
		}

		pkt, err := protocol.ParsePacket(wire)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "enqueueRequest",
				"peer":     n.id.Short(),
				"error":    err.Error(),
			}).Error("Failed to parse inbound request")
			return
		}

		handler(InboundRequest{
			From:      from,
			Packet:    pkt,
			Responder: &loopbackResponder{ch: responseCh},
		})
	}
	return true
}

func (n *LoopbackNode) enqueueDelivery(author, forwarder crypto.PeerID, wire []byte) {
	defer func() { recover() }() // inbox may be closed concurrently

	n.inbox <- func() {
		n.mu.RLock()
		handler := n.deliveryHandler
		n.mu.RUnlock()
		if handler == nil {
			return
		}

		pkt, err := protocol.ParsePacket(wire)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "enqueueDelivery",
				"peer":     n.id.Short(),
				"error":    err.Error(),
			}).Error("Failed to parse inbound delivery")
			return
		}

		handler(Delivery{Author: author, Forwarder: forwarder, Packet: pkt})
	}
}

// loopbackResponder answers one request at most once.
type loopbackResponder struct {
	once sync.Once
	ch   chan *protocol.Packet
}

func (r *loopbackResponder) Respond(pkt *protocol.Packet) error {
	// Round-trip through the codec like every other hop.
	wire, err := pkt.Serialize()
	if err != nil {
		return err
	}
	parsed, err := protocol.ParsePacket(wire)
	if err != nil {
		return err
	}

	answered := false
	r.once.Do(func() {
		r.ch <- parsed
		answered = true
	})
	if !answered {
		return ErrAlreadyResponded
	}
	return nil
}
