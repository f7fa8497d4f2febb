// Package session implements the per-peer negotiation state machine.
//
// Each remote peer gets one session tracking the offer/transfer lifecycle:
//
//	Idle -> OfferSent | OfferReceived -> (Accepted -> Transferring ->
//	Completed|Failed) | Idle
//
// A single offer and a single transfer may be active per peer at a time.
// Transitions are pure state changes; sending the corresponding wire messages
// is the dispatcher's job.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/swapbytes/crypto"
)

// ErrNoPendingOffer indicates an accept/decline with no matching offer.
var ErrNoPendingOffer = errors.New("no pending offer from this peer")

// ErrTransferActive indicates a new offer while chunks are still moving.
var ErrTransferActive = errors.New("a transfer with this peer is already active")

// ErrOfferAwaitingAnswer indicates the peer's own offer must be answered first.
var ErrOfferAwaitingAnswer = errors.New("peer has a pending offer awaiting your response")

// ErrNotTransferring indicates a transfer-control message arrived for a peer
// with no active transfer.
var ErrNotTransferring = errors.New("no active transfer with this peer")

// State represents the negotiation state of one peer pair.
type State uint8

const (
	// StateIdle means no offer or transfer is in flight.
	StateIdle State = iota
	// StateOfferSent means our offer awaits the peer's answer.
	StateOfferSent
	// StateOfferReceived means the peer's offer awaits our answer.
	StateOfferReceived
	// StateAccepted means we accepted the peer's offer and the download is
	// being initialized.
	StateAccepted
	// StateTransferring means chunks are moving in one direction.
	StateTransferring
	// StateCompleted means the last transfer finished; the pair is idle for
	// subsequent offers.
	StateCompleted
	// StateFailed means the last transfer aborted; the pair is idle for
	// subsequent offers.
	StateFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateOfferSent:
		return "OfferSent"
	case StateOfferReceived:
		return "OfferReceived"
	case StateAccepted:
		return "Accepted"
	case StateTransferring:
		return "Transferring"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// OfferStatus tracks the outcome of a trade offer.
type OfferStatus uint8

const (
	// OfferPending means the offer has not been answered.
	OfferPending OfferStatus = iota
	// OfferAccepted means the offer was accepted.
	OfferAccepted
	// OfferDeclined means the offer was declined.
	OfferDeclined
	// OfferExpired means a newer offer superseded this one.
	OfferExpired
)

// Direction indicates whether we made or received an offer.
type Direction uint8

const (
	// DirectionOutbound marks an offer we sent.
	DirectionOutbound Direction = iota
	// DirectionInbound marks an offer we received.
	DirectionInbound
)

// Offer is one trade offer between the local peer and a remote peer.
// ChunkSize is the sender's chunk size; both sides address the file with it.
type Offer struct {
	ID        string
	Peer      crypto.PeerID
	Direction Direction
	Filename  string
	Size      uint64
	ChunkSize uint64
	Timestamp time.Time
	Status    OfferStatus

	// LocalPath is the path of the offered file. Set only for outbound offers.
	LocalPath string
}

// Session is the negotiation state machine for one remote peer.
type Session struct {
	Peer  crypto.PeerID
	State State

	// Offer is the offer currently governing the session, in whichever
	// direction. Nil while idle with no history.
	Offer *Offer
}

// SendOffer transitions to OfferSent for an offer we are making. A fresh
// outbound offer supersedes our own unanswered one; the superseded offer is
// returned marked Expired so a notification can fire. An unanswered offer
// FROM the peer must be answered first, and an active transfer blocks new
// offers entirely.
func (s *Session) SendOffer(filename string, size, chunkSize uint64, localPath string, now time.Time) (offer, expired *Offer, err error) {
	switch {
	case s.State == StateOfferReceived || s.State == StateAccepted:
		return nil, nil, ErrOfferAwaitingAnswer
	case s.State == StateTransferring:
		return nil, nil, ErrTransferActive
	}

	if s.State == StateOfferSent && s.Offer != nil && s.Offer.Status == OfferPending {
		s.Offer.Status = OfferExpired
		expired = s.Offer

		logrus.WithFields(logrus.Fields{
			"function":     "SendOffer",
			"peer":         s.Peer.Short(),
			"old_filename": expired.Filename,
			"new_filename": filename,
		}).Info("Fresh outbound offer supersedes unanswered offer")
	}

	offer = &Offer{
		ID:        uuid.NewString(),
		Peer:      s.Peer,
		Direction: DirectionOutbound,
		Filename:  filename,
		Size:      size,
		ChunkSize: chunkSize,
		Timestamp: now,
		Status:    OfferPending,
		LocalPath: localPath,
	}
	s.Offer = offer
	s.State = StateOfferSent

	logrus.WithFields(logrus.Fields{
		"function": "SendOffer",
		"peer":     s.Peer.Short(),
		"filename": filename,
		"size":     size,
	}).Info("Offer sent, awaiting answer")

	return offer, expired, nil
}

// ReceiveOffer transitions to OfferReceived. A fresh inbound offer always
// supersedes whatever unanswered offer was pending, in either direction; the
// superseded offer is returned marked Expired so a notification can fire.
func (s *Session) ReceiveOffer(filename string, size, chunkSize uint64, now time.Time) (offer, expired *Offer) {
	if s.Offer != nil && s.Offer.Status == OfferPending &&
		(s.State == StateOfferSent || s.State == StateOfferReceived) {
		s.Offer.Status = OfferExpired
		expired = s.Offer

		logrus.WithFields(logrus.Fields{
			"function":     "ReceiveOffer",
			"peer":         s.Peer.Short(),
			"old_filename": expired.Filename,
			"new_filename": filename,
		}).Info("Fresh offer supersedes pending offer")
	}

	offer = &Offer{
		ID:        uuid.NewString(),
		Peer:      s.Peer,
		Direction: DirectionInbound,
		Filename:  filename,
		Size:      size,
		ChunkSize: chunkSize,
		Timestamp: now,
		Status:    OfferPending,
	}
	s.Offer = offer
	s.State = StateOfferReceived
	return offer, expired
}

// Accept transitions OfferReceived -> Accepted for the pending inbound offer.
func (s *Session) Accept() (*Offer, error) {
	if s.State != StateOfferReceived || s.Offer == nil || s.Offer.Status != OfferPending {
		return nil, ErrNoPendingOffer
	}
	s.Offer.Status = OfferAccepted
	s.State = StateAccepted
	return s.Offer, nil
}

// Decline transitions OfferReceived -> Idle. No offer state is retained.
func (s *Session) Decline() (*Offer, error) {
	if s.State != StateOfferReceived || s.Offer == nil || s.Offer.Status != OfferPending {
		return nil, ErrNoPendingOffer
	}
	offer := s.Offer
	offer.Status = OfferDeclined
	s.Offer = nil
	s.State = StateIdle
	return offer, nil
}

// OnAcceptReceived transitions OfferSent -> Transferring on the offering side.
func (s *Session) OnAcceptReceived() (*Offer, error) {
	if s.State != StateOfferSent || s.Offer == nil {
		return nil, ErrNoPendingOffer
	}
	s.Offer.Status = OfferAccepted
	s.State = StateTransferring
	return s.Offer, nil
}

// OnDeclineReceived transitions OfferSent -> Idle on the offering side.
func (s *Session) OnDeclineReceived() (*Offer, error) {
	if s.State != StateOfferSent || s.Offer == nil {
		return nil, ErrNoPendingOffer
	}
	offer := s.Offer
	offer.Status = OfferDeclined
	s.Offer = nil
	s.State = StateIdle
	return offer, nil
}

// BeginTransfer transitions Accepted -> Transferring on the receiving side
// once the download is initialized and the first chunk request is out.
func (s *Session) BeginTransfer() error {
	if s.State != StateAccepted {
		return ErrNotTransferring
	}
	s.State = StateTransferring
	return nil
}

// Complete marks the active transfer finished. Terminal for this transfer;
// the pair is idle for subsequent offers.
func (s *Session) Complete() error {
	if s.State != StateTransferring && s.State != StateAccepted {
		return ErrNotTransferring
	}
	s.State = StateCompleted
	s.Offer = nil
	return nil
}

// Fail marks the active transfer aborted. Terminal for this transfer; the
// pair is idle for subsequent offers.
func (s *Session) Fail() error {
	if s.State != StateTransferring && s.State != StateAccepted {
		return ErrNotTransferring
	}
	s.State = StateFailed
	s.Offer = nil
	return nil
}

// Transferring reports whether a transfer with this peer is active.
func (s *Session) Transferring() bool {
	return s.State == StateTransferring
}

// Machine owns the sessions for every peer pair. It is exclusively owned by
// the protocol event loop and needs no locking by construction.
type Machine struct {
	sessions map[crypto.PeerID]*Session
}

// NewMachine creates an empty session machine.
func NewMachine() *Machine {
	return &Machine{sessions: make(map[crypto.PeerID]*Session)}
}

// Get returns the session for a peer, creating an idle one if absent.
func (m *Machine) Get(peer crypto.PeerID) *Session {
	if s, ok := m.sessions[peer]; ok {
		return s
	}
	s := &Session{Peer: peer, State: StateIdle}
	m.sessions[peer] = s
	return s
}

// Peek returns the session for a peer without creating one.
func (m *Machine) Peek(peer crypto.PeerID) (*Session, bool) {
	s, ok := m.sessions[peer]
	return s, ok
}
