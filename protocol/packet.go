// Package protocol defines the SwapBytes wire messages and their binary codec.
//
// Every message travels as a Packet: a single type byte followed by a
// type-specific payload. Peer-directed packets ride the request/response
// transport; broadcast packets ride the gossip topic.
//
// Example:
//
//	pkt := protocol.EncodeOffer(protocol.Offer{
//	    Filename:  "notes.pdf",
//	    Size:      1500,
//	    Timestamp: time.Now().UnixMilli(),
//	})
//
//	data, err := pkt.Serialize()
package protocol

import (
	"errors"
)

// PacketType identifies the type of a SwapBytes packet.
type PacketType byte

const (
	// Peer-directed request packet types
	PacketPrivateChat PacketType = iota + 1
	PacketOffer
	PacketAccept
	PacketDecline
	PacketRequestChunk

	// Peer-directed response packet types
	PacketAck
	PacketChunk
	PacketTransferError

	// Broadcast packet types
	PacketHeartbeat
	PacketGlobalChat
)

// Packet represents a SwapBytes protocol packet.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}

	copy(packet.Data, data[1:])

	return packet, nil
}

// IsRequest reports whether the packet type expects a correlated response.
func (t PacketType) IsRequest() bool {
	switch t {
	case PacketPrivateChat, PacketOffer, PacketAccept, PacketDecline, PacketRequestChunk:
		return true
	}
	return false
}

// IsBroadcast reports whether the packet type is topic-scoped.
func (t PacketType) IsBroadcast() bool {
	return t == PacketHeartbeat || t == PacketGlobalChat
}

// String returns a human-readable name for the packet type.
func (t PacketType) String() string {
	switch t {
	case PacketPrivateChat:
		return "PrivateChat"
	case PacketOffer:
		return "Offer"
	case PacketAccept:
		return "Accept"
	case PacketDecline:
		return "Decline"
	case PacketRequestChunk:
		return "RequestChunk"
	case PacketAck:
		return "Ack"
	case PacketChunk:
		return "Chunk"
	case PacketTransferError:
		return "TransferError"
	case PacketHeartbeat:
		return "Heartbeat"
	case PacketGlobalChat:
		return "GlobalChat"
	default:
		return "Unknown"
	}
}
