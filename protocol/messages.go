package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxChunkPayload is the maximum chunk payload accepted off the wire to
// prevent resource exhaustion.
const MaxChunkPayload = 256 * 1024

// MaxNameLength is the maximum allowed file name length in bytes.
// The value (255) matches typical filesystem limits and fits in a uint16.
const MaxNameLength = 255

// MaxStringLength bounds every length-prefixed string field on the wire.
// Longer strings would wrap the uint16 prefix and garble the packet.
const MaxStringLength = 65535

// ErrStringTooLong indicates a string field that does not fit its uint16
// length prefix.
var ErrStringTooLong = errors.New("string field exceeds maximum wire length")

// ErrNameTooLong indicates that a file name exceeds the maximum allowed length.
var ErrNameTooLong = errors.New("file name too long")

// ErrChunkTooLarge indicates that a chunk payload exceeds the maximum allowed size.
var ErrChunkTooLarge = errors.New("chunk payload exceeds maximum allowed")

// PrivateChat is a direct chat line sent to a single peer.
type PrivateChat struct {
	Text      string
	Timestamp int64
}

// Offer proposes a file transfer to a peer. ChunkSize is the sender's chunk
// size; the receiver adopts it so both sides address the same byte ranges.
type Offer struct {
	Filename  string
	Size      uint64
	ChunkSize uint64
	Timestamp int64
}

// Accept consents to the most recent offer from a peer.
type Accept struct {
	Timestamp int64
}

// Decline rejects the most recent offer from a peer.
type Decline struct {
	Timestamp int64
}

// RequestChunk asks the sender for one chunk of an offered file.
type RequestChunk struct {
	Filename string
	Index    uint64
}

// Chunk carries one chunk of file data back to the receiver.
type Chunk struct {
	Filename string
	Index    uint64
	Data     []byte
	Final    bool
}

// TransferError reports a sender-side failure for a transfer in progress.
type TransferError struct {
	Filename string
	Reason   string
}

// Heartbeat announces liveness and the current nickname on the broadcast topic.
type Heartbeat struct {
	Nickname  string
	Timestamp int64
}

// GlobalChat is a chat line on the shared broadcast topic.
type GlobalChat struct {
	Text      string
	Timestamp int64
}

// EncodePrivateChat creates a private chat packet.
func EncodePrivateChat(m PrivateChat) (*Packet, error) {
	if len(m.Text) > MaxStringLength {
		return nil, ErrStringTooLong
	}

	// Format: [timestamp (8 bytes)][text_len (2 bytes)][text]
	data := make([]byte, 10+len(m.Text))
	binary.BigEndian.PutUint64(data[0:8], uint64(m.Timestamp))
	binary.BigEndian.PutUint16(data[8:10], uint16(len(m.Text)))
	copy(data[10:], m.Text)
	return &Packet{PacketType: PacketPrivateChat, Data: data}, nil
}

// DecodePrivateChat parses a private chat packet payload.
func DecodePrivateChat(data []byte) (PrivateChat, error) {
	if len(data) < 10 {
		return PrivateChat{}, errors.New("private chat packet too short")
	}
	textLen := binary.BigEndian.Uint16(data[8:10])
	if len(data) < 10+int(textLen) {
		return PrivateChat{}, errors.New("private chat packet truncated")
	}
	return PrivateChat{
		Timestamp: int64(binary.BigEndian.Uint64(data[0:8])),
		Text:      string(data[10 : 10+textLen]),
	}, nil
}

// EncodeOffer creates a file offer packet.
func EncodeOffer(m Offer) *Packet {
	// Format: [timestamp (8 bytes)][size (8 bytes)][chunk_size (8 bytes)]
	//         [name_len (2 bytes)][name]
	data := make([]byte, 26+len(m.Filename))
	binary.BigEndian.PutUint64(data[0:8], uint64(m.Timestamp))
	binary.BigEndian.PutUint64(data[8:16], m.Size)
	binary.BigEndian.PutUint64(data[16:24], m.ChunkSize)
	binary.BigEndian.PutUint16(data[24:26], uint16(len(m.Filename)))
	copy(data[26:], m.Filename)
	return &Packet{PacketType: PacketOffer, Data: data}
}

// DecodeOffer parses a file offer packet payload.
func DecodeOffer(data []byte) (Offer, error) {
	if len(data) < 26 {
		return Offer{}, errors.New("offer packet too short")
	}
	nameLen := binary.BigEndian.Uint16(data[24:26])
	if nameLen > MaxNameLength {
		return Offer{}, ErrNameTooLong
	}
	if len(data) < 26+int(nameLen) {
		return Offer{}, errors.New("offer packet truncated")
	}
	return Offer{
		Timestamp: int64(binary.BigEndian.Uint64(data[0:8])),
		Size:      binary.BigEndian.Uint64(data[8:16]),
		ChunkSize: binary.BigEndian.Uint64(data[16:24]),
		Filename:  string(data[26 : 26+nameLen]),
	}, nil
}

// EncodeAccept creates an offer acceptance packet.
func EncodeAccept(m Accept) *Packet {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(m.Timestamp))
	return &Packet{PacketType: PacketAccept, Data: data}
}

// DecodeAccept parses an offer acceptance packet payload.
func DecodeAccept(data []byte) (Accept, error) {
	if len(data) < 8 {
		return Accept{}, errors.New("accept packet too short")
	}
	return Accept{Timestamp: int64(binary.BigEndian.Uint64(data[0:8]))}, nil
}

// EncodeDecline creates an offer decline packet.
func EncodeDecline(m Decline) *Packet {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(m.Timestamp))
	return &Packet{PacketType: PacketDecline, Data: data}
}

// DecodeDecline parses an offer decline packet payload.
func DecodeDecline(data []byte) (Decline, error) {
	if len(data) < 8 {
		return Decline{}, errors.New("decline packet too short")
	}
	return Decline{Timestamp: int64(binary.BigEndian.Uint64(data[0:8]))}, nil
}

// EncodeRequestChunk creates a chunk request packet.
func EncodeRequestChunk(m RequestChunk) *Packet {
	// Format: [index (8 bytes)][name_len (2 bytes)][name]
	data := make([]byte, 10+len(m.Filename))
	binary.BigEndian.PutUint64(data[0:8], m.Index)
	binary.BigEndian.PutUint16(data[8:10], uint16(len(m.Filename)))
	copy(data[10:], m.Filename)
	return &Packet{PacketType: PacketRequestChunk, Data: data}
}

// DecodeRequestChunk parses a chunk request packet payload.
func DecodeRequestChunk(data []byte) (RequestChunk, error) {
	if len(data) < 10 {
		return RequestChunk{}, errors.New("chunk request packet too short")
	}
	nameLen := binary.BigEndian.Uint16(data[8:10])
	if nameLen > MaxNameLength {
		return RequestChunk{}, ErrNameTooLong
	}
	if len(data) < 10+int(nameLen) {
		return RequestChunk{}, errors.New("chunk request packet truncated")
	}
	return RequestChunk{
		Index:    binary.BigEndian.Uint64(data[0:8]),
		Filename: string(data[10 : 10+nameLen]),
	}, nil
}

// EncodeAck creates a generic acknowledgement packet.
func EncodeAck() *Packet {
	return &Packet{PacketType: PacketAck, Data: []byte{}}
}

// EncodeChunk creates a file chunk packet.
func EncodeChunk(m Chunk) (*Packet, error) {
	if len(m.Data) > MaxChunkPayload {
		return nil, ErrChunkTooLarge
	}
	if len(m.Filename) > MaxNameLength {
		return nil, ErrNameTooLong
	}

	// Format: [index (8 bytes)][final (1 byte)][name_len (2 bytes)][name][data]
	data := make([]byte, 11+len(m.Filename)+len(m.Data))
	binary.BigEndian.PutUint64(data[0:8], m.Index)
	if m.Final {
		data[8] = 1
	}
	binary.BigEndian.PutUint16(data[9:11], uint16(len(m.Filename)))
	copy(data[11:], m.Filename)
	copy(data[11+len(m.Filename):], m.Data)
	return &Packet{PacketType: PacketChunk, Data: data}, nil
}

// DecodeChunk parses a file chunk packet payload.
func DecodeChunk(data []byte) (Chunk, error) {
	if len(data) < 11 {
		return Chunk{}, errors.New("chunk packet too short")
	}
	nameLen := binary.BigEndian.Uint16(data[9:11])
	if nameLen > MaxNameLength {
		return Chunk{}, ErrNameTooLong
	}
	if len(data) < 11+int(nameLen) {
		return Chunk{}, errors.New("chunk packet truncated")
	}
	payload := data[11+nameLen:]
	if len(payload) > MaxChunkPayload {
		return Chunk{}, ErrChunkTooLarge
	}
	chunk := Chunk{
		Index:    binary.BigEndian.Uint64(data[0:8]),
		Final:    data[8] == 1,
		Filename: string(data[11 : 11+nameLen]),
		Data:     make([]byte, len(payload)),
	}
	copy(chunk.Data, payload)
	return chunk, nil
}

// EncodeTransferError creates a transfer error packet.
func EncodeTransferError(m TransferError) (*Packet, error) {
	if len(m.Filename) > MaxNameLength {
		return nil, ErrNameTooLong
	}
	if len(m.Reason) > MaxStringLength {
		return nil, ErrStringTooLong
	}

	// Format: [name_len (2 bytes)][name][reason_len (2 bytes)][reason]
	data := make([]byte, 4+len(m.Filename)+len(m.Reason))
	binary.BigEndian.PutUint16(data[0:2], uint16(len(m.Filename)))
	copy(data[2:], m.Filename)
	off := 2 + len(m.Filename)
	binary.BigEndian.PutUint16(data[off:off+2], uint16(len(m.Reason)))
	copy(data[off+2:], m.Reason)
	return &Packet{PacketType: PacketTransferError, Data: data}, nil
}

// DecodeTransferError parses a transfer error packet payload.
func DecodeTransferError(data []byte) (TransferError, error) {
	if len(data) < 4 {
		return TransferError{}, errors.New("transfer error packet too short")
	}
	nameLen := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 4+nameLen {
		return TransferError{}, errors.New("transfer error packet truncated")
	}
	reasonLen := int(binary.BigEndian.Uint16(data[2+nameLen : 4+nameLen]))
	if len(data) < 4+nameLen+reasonLen {
		return TransferError{}, errors.New("transfer error packet truncated")
	}
	return TransferError{
		Filename: string(data[2 : 2+nameLen]),
		Reason:   string(data[4+nameLen : 4+nameLen+reasonLen]),
	}, nil
}

// EncodeHeartbeat creates a presence heartbeat packet.
func EncodeHeartbeat(m Heartbeat) (*Packet, error) {
	if len(m.Nickname) > MaxStringLength {
		return nil, ErrStringTooLong
	}

	// Format: [timestamp (8 bytes)][nick_len (2 bytes)][nickname]
	data := make([]byte, 10+len(m.Nickname))
	binary.BigEndian.PutUint64(data[0:8], uint64(m.Timestamp))
	binary.BigEndian.PutUint16(data[8:10], uint16(len(m.Nickname)))
	copy(data[10:], m.Nickname)
	return &Packet{PacketType: PacketHeartbeat, Data: data}, nil
}

// DecodeHeartbeat parses a presence heartbeat packet payload.
func DecodeHeartbeat(data []byte) (Heartbeat, error) {
	if len(data) < 10 {
		return Heartbeat{}, errors.New("heartbeat packet too short")
	}
	nickLen := binary.BigEndian.Uint16(data[8:10])
	if len(data) < 10+int(nickLen) {
		return Heartbeat{}, errors.New("heartbeat packet truncated")
	}
	return Heartbeat{
		Timestamp: int64(binary.BigEndian.Uint64(data[0:8])),
		Nickname:  string(data[10 : 10+nickLen]),
	}, nil
}

// EncodeGlobalChat creates a global chat packet.
func EncodeGlobalChat(m GlobalChat) (*Packet, error) {
	if len(m.Text) > MaxStringLength {
		return nil, ErrStringTooLong
	}

	// Format: [timestamp (8 bytes)][text_len (2 bytes)][text]
	data := make([]byte, 10+len(m.Text))
	binary.BigEndian.PutUint64(data[0:8], uint64(m.Timestamp))
	binary.BigEndian.PutUint16(data[8:10], uint16(len(m.Text)))
	copy(data[10:], m.Text)
	return &Packet{PacketType: PacketGlobalChat, Data: data}, nil
}

// DecodeGlobalChat parses a global chat packet payload.
func DecodeGlobalChat(data []byte) (GlobalChat, error) {
	if len(data) < 10 {
		return GlobalChat{}, errors.New("global chat packet too short")
	}
	textLen := binary.BigEndian.Uint16(data[8:10])
	if len(data) < 10+int(textLen) {
		return GlobalChat{}, errors.New("global chat packet truncated")
	}
	return GlobalChat{
		Timestamp: int64(binary.BigEndian.Uint64(data[0:8])),
		Text:      string(data[10 : 10+textLen]),
	}, nil
}

// ValidateFilename rejects names that are empty, too long, or contain path
// separators. Offered filenames are bare names; the receiver picks the
// directory.
func ValidateFilename(name string) error {
	if name == "" {
		return errors.New("empty file name")
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == '\\' || name[i] == 0 {
			return fmt.Errorf("file name contains illegal character at position %d", i)
		}
	}
	if name == "." || name == ".." {
		return errors.New("file name is a directory reference")
	}
	return nil
}
