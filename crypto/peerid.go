package crypto

import (
	"encoding/hex"
	"errors"
)

// PeerID is the stable opaque identifier of a peer on the overlay.
// It is the peer's public key, so broadcast authorship can be verified by the
// transport without any extra registry.
type PeerID [32]byte

// ParsePeerID decodes a 64-character hex string into a PeerID.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	if len(s) != hex.EncodedLen(len(id)) {
		return id, errors.New("peer ID must be 64 hex characters")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the full hex form of the peer ID.
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns an abbreviated display form, e.g. "(...a1b2c3)".
func (id PeerID) Short() string {
	full := id.String()
	return "(..." + full[len(full)-6:] + ")"
}

// IsZero reports whether the ID is the all-zero value.
func (id PeerID) IsZero() bool {
	return id == PeerID{}
}

// MarshalText encodes the ID as hex for JSON and text formats.
func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a hex-encoded ID.
func (id *PeerID) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
