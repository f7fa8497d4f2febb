// Package swapbytes implements the core engine of the SwapBytes protocol.
//
// SwapBytes lets peers on a peer-to-peer overlay discover one another,
// broadcast chat, negotiate file swaps privately, and transfer files in a
// resumable, flow-controlled manner. This package owns the protocol state:
// the presence table, the per-peer negotiation state machines, and the chunk
// transfer engine. Network delivery and the user interface are external
// collaborators reached through the transport.Node boundary and the On*
// callbacks.
//
// Example:
//
//	keys, _ := crypto.GenerateKeyPair()
//	node := overlay.Attach(keys.PeerID())
//
//	options := swapbytes.NewOptions()
//	options.Nickname = "alice"
//	options.DownloadDir = "/tmp/swaps"
//
//	sb, err := swapbytes.New(keys, node, options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sb.OnChatMessage(func(entry history.Entry) {
//	    fmt.Printf("<%s> %s\n", entry.AuthorName, entry.Text)
//	})
//
//	go sb.Run(ctx)
//	sb.SendGlobalChat("hello, overlay")
package swapbytes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/swapbytes/crypto"
	"github.com/opd-ai/swapbytes/history"
	"github.com/opd-ai/swapbytes/presence"
	"github.com/opd-ai/swapbytes/protocol"
	"github.com/opd-ai/swapbytes/session"
	"github.com/opd-ai/swapbytes/transfer"
	"github.com/opd-ai/swapbytes/transport"
)

// ErrNotRunning indicates a command was issued while the event loop is down.
var ErrNotRunning = errors.New("swapbytes engine is not running")

// ErrNoTransfer indicates a progress query for a peer with no transfer state.
var ErrNoTransfer = errors.New("no transfer with this peer")

// queueSize bounds the command and event queues feeding the loop.
const queueSize = 256

// ChatMessageCallback fires when a chat entry is appended to any scope.
type ChatMessageCallback func(entry history.Entry)

// PresenceCallback fires when a peer's online status or nickname changes.
type PresenceCallback func(rec presence.PeerRecord)

// OfferReceivedCallback fires when a peer offers us a file.
type OfferReceivedCallback func(offer session.Offer)

// OfferExpiredCallback fires when a newer offer supersedes an unanswered one.
type OfferExpiredCallback func(offer session.Offer)

// OfferAnsweredCallback fires when a peer accepts or declines our offer.
type OfferAnsweredCallback func(offer session.Offer, accepted bool)

// TransferProgressCallback fires as a transfer advances, throttled by
// Options.ProgressInterval. It also fires when a transfer stalls.
type TransferProgressCallback func(p transfer.Progress)

// TransferCompleteCallback fires when a transfer finishes on either side.
type TransferCompleteCallback func(p transfer.Progress)

// TransferFailedCallback fires when a transfer aborts.
type TransferFailedCallback func(peer crypto.PeerID, filename, reason string)

// sourceKey identifies a sender-side read handle.
type sourceKey struct {
	peer     crypto.PeerID
	filename string
}

// SwapBytes is one peer's protocol engine. All protocol state is owned by
// the single event loop started by Run; commands and network events are
// funneled into it through ordered queues, so the state needs no locking by
// construction.
type SwapBytes struct {
	options *Options
	keyPair *crypto.KeyPair
	self    crypto.PeerID
	node    transport.Node

	// Loop-owned state. Touched only from Run.
	presence  *presence.Table
	sessions  *session.Machine
	downloads map[crypto.PeerID]*transfer.Download
	sources   map[sourceKey]*transfer.Source
	nickname  string
	visible   bool

	chatLog *history.Log
	store   *history.Store

	commands chan func()
	events   chan func()
	claimed  atomic.Bool
	running  atomic.Bool
	quit     chan struct{}

	cbMu              sync.RWMutex
	chatCallback      ChatMessageCallback
	presenceCallback  PresenceCallback
	offerRecvCallback OfferReceivedCallback
	offerExpCallback  OfferExpiredCallback
	offerAnsCallback  OfferAnsweredCallback
	progressCallback  TransferProgressCallback
	completeCallback  TransferCompleteCallback
	failedCallback    TransferFailedCallback
}

// New creates a SwapBytes engine bound to an identity and a transport node.
func New(keyPair *crypto.KeyPair, node transport.Node, options *Options) (*SwapBytes, error) {
	if keyPair == nil {
		return nil, errors.New("key pair is required")
	}
	if node == nil {
		return nil, errors.New("transport node is required")
	}
	if options == nil {
		options = NewOptions()
	}
	if options.ChunkSize == 0 {
		options.ChunkSize = transfer.DefaultChunkSize
	}
	if options.ChunkSize > protocol.MaxChunkPayload {
		return nil, fmt.Errorf("chunk size %d exceeds the wire limit of %d", options.ChunkSize, protocol.MaxChunkPayload)
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"peer":     keyPair.PeerID().Short(),
		"nickname": options.Nickname,
	}).Info("Creating SwapBytes engine")

	s := &SwapBytes{
		options:   options,
		keyPair:   keyPair,
		self:      keyPair.PeerID(),
		node:      node,
		presence:  presence.NewTable(options.PeerTimeout),
		sessions:  session.NewMachine(),
		downloads: make(map[crypto.PeerID]*transfer.Download),
		sources:   make(map[sourceKey]*transfer.Source),
		nickname:  options.Nickname,
		visible:   options.Visible,
		chatLog:   history.NewLog(options.HistorySize),
		commands:  make(chan func(), queueSize),
		events:    make(chan func(), queueSize),
		quit:      make(chan struct{}),
	}

	if options.HistoryPath != "" {
		store, err := history.OpenStore(options.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		s.store = store

		recent, err := store.Recent("global", options.HistorySize)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "New",
				"error":    err.Error(),
			}).Warn("Failed to load persisted chat history")
		} else {
			s.chatLog.Load(recent)
		}
	}

	return s, nil
}

// PeerID returns the local peer's identifier.
func (s *SwapBytes) PeerID() crypto.PeerID {
	return s.self
}

// OnChatMessage registers the chat notification callback.
// Callbacks run on the event loop and must not block or call back into
// command methods.
func (s *SwapBytes) OnChatMessage(cb ChatMessageCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.chatCallback = cb
}

// OnPresenceChanged registers the presence notification callback.
func (s *SwapBytes) OnPresenceChanged(cb PresenceCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.presenceCallback = cb
}

// OnOfferReceived registers the inbound offer notification callback.
func (s *SwapBytes) OnOfferReceived(cb OfferReceivedCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.offerRecvCallback = cb
}

// OnOfferExpired registers the offer supersession notification callback.
func (s *SwapBytes) OnOfferExpired(cb OfferExpiredCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.offerExpCallback = cb
}

// OnOfferAnswered registers the callback for answers to our offers.
func (s *SwapBytes) OnOfferAnswered(cb OfferAnsweredCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.offerAnsCallback = cb
}

// OnTransferProgress registers the transfer progress callback.
func (s *SwapBytes) OnTransferProgress(cb TransferProgressCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.progressCallback = cb
}

// OnTransferComplete registers the transfer completion callback.
func (s *SwapBytes) OnTransferComplete(cb TransferCompleteCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.completeCallback = cb
}

// OnTransferFailed registers the transfer failure callback.
func (s *SwapBytes) OnTransferFailed(cb TransferFailedCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.failedCallback = cb
}

// Run starts the event loop and blocks until the context is canceled. All
// protocol state lives on this goroutine; inbound network traffic and
// commands join through the event and command queues.
func (s *SwapBytes) Run(ctx context.Context) error {
	if !s.claimed.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.quit)
	}()

	s.node.SetRequestHandler(func(req transport.InboundRequest) {
		select {
		case s.events <- func() { s.handleRequest(req) }:
		case <-ctx.Done():
		}
	})
	s.node.SetDeliveryHandler(func(d transport.Delivery) {
		select {
		case s.events <- func() { s.handleDelivery(d) }:
		case <-ctx.Done():
		}
	})

	// Seed the roster; not authoritative for liveness.
	s.presence.Seed(s.node.Peers(), time.Now())

	heartbeat := time.NewTicker(s.options.HeartbeatInterval)
	defer heartbeat.Stop()

	sweepInterval := s.options.PeerTimeout / 4
	if sweepInterval < time.Second {
		sweepInterval = time.Second
	}
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	s.publishHeartbeat()
	s.running.Store(true)

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"peer":     s.self.Short(),
	}).Info("Event loop started")

	for {
		select {
		case <-ctx.Done():
			if s.store != nil {
				if err := s.store.Close(); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "Run",
						"error":    err.Error(),
					}).Warn("Failed to close history store")
				}
			}
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"peer":     s.self.Short(),
			}).Info("Event loop stopped")
			return ctx.Err()

		case cmd := <-s.commands:
			cmd()

		case ev := <-s.events:
			ev()

		case <-heartbeat.C:
			if s.visible {
				s.publishHeartbeat()
			}

		case now := <-sweep.C:
			for _, rec := range s.presence.MarkOfflineIfStale(now) {
				s.notifyPresence(rec)
			}
		}
	}
}

// do runs fn on the event loop and waits for it.
func (s *SwapBytes) do(fn func()) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	done := make(chan struct{})
	select {
	case s.commands <- func() { fn(); close(done) }:
	case <-s.quit:
		return ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return ErrNotRunning
	}
}

// emit queues fn as an event on the loop without waiting.
func (s *SwapBytes) emit(fn func()) {
	select {
	case s.events <- fn:
	case <-s.quit:
	}
}

// SendGlobalChat publishes a chat line on the shared topic and appends it to
// the local global log.
func (s *SwapBytes) SendGlobalChat(text string) error {
	if text == "" {
		return errors.New("empty message")
	}
	var sendErr error
	err := s.do(func() {
		now := time.Now()
		pkt, err := protocolGlobalChat(text, now)
		if err != nil {
			sendErr = err
			return
		}
		go func() {
			if err := s.node.Publish(Topic, pkt); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "SendGlobalChat",
					"error":    err.Error(),
				}).Warn("Failed to publish global chat")
			}
		}()

		entry := history.NewEntry(s.self, s.nickname, text, now)
		s.appendChat(entry)
	})
	if err != nil {
		return err
	}
	return sendErr
}

// SendPrivateChat sends a chat line directly to one peer.
func (s *SwapBytes) SendPrivateChat(peer crypto.PeerID, text string) error {
	if text == "" {
		return errors.New("empty message")
	}
	if peer == s.self {
		return errors.New("cannot chat with yourself")
	}
	var sendErr error
	err := s.do(func() {
		now := time.Now()
		pkt, err := protocolPrivateChat(text, now)
		if err != nil {
			sendErr = err
			return
		}

		entry := history.NewEntry(s.self, s.nickname, text, now)
		entry.Private = true
		entry.Peer = peer
		s.appendChat(entry)

		go func() {
			if _, err := s.sendRequest(peer, pkt); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "SendPrivateChat",
					"peer":     peer.Short(),
					"error":    err.Error(),
				}).Warn("Private chat delivery failed")
			}
		}()
	})
	if err != nil {
		return err
	}
	return sendErr
}

// OfferFile offers a local file to a peer. The path must name a regular,
// readable file; only its base name travels on the wire.
func (s *SwapBytes) OfferFile(peer crypto.PeerID, path string) error {
	if peer == s.self {
		return errors.New("cannot offer a file to yourself")
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot offer file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("offer path is not a regular file: %s", path)
	}
	filename := filepath.Base(path)
	if err := validateOfferName(filename); err != nil {
		return err
	}
	size := uint64(info.Size())

	var offerErr error
	err = s.do(func() {
		// A download stalled with no driver must not hold the pair hostage.
		s.abandonStalled(peer)

		sess := s.sessions.Get(peer)
		now := time.Now()
		offer, expired, err := sess.SendOffer(filename, size, s.options.ChunkSize, path, now)
		if err != nil {
			offerErr = err
			return
		}
		if expired != nil {
			s.notifyOfferExpired(*expired)
		}

		pkt := protocolOffer(offer.Filename, offer.Size, offer.ChunkSize, now)
		go func() {
			if _, err := s.sendRequest(peer, pkt); err != nil {
				// The offer stays pending; the peer may still see it after a
				// partition heals, and a fresh offer supersedes it anyway.
				logrus.WithFields(logrus.Fields{
					"function": "OfferFile",
					"peer":     peer.Short(),
					"filename": offer.Filename,
					"error":    err.Error(),
				}).Warn("Offer delivery failed")
			}
		}()
	})
	if err != nil {
		return err
	}
	return offerErr
}

// AcceptOffer accepts the pending offer from a peer and starts the download.
func (s *SwapBytes) AcceptOffer(peer crypto.PeerID) error {
	var acceptErr error
	err := s.do(func() {
		if s.options.DownloadDir == "" {
			acceptErr = errors.New("download directory not set")
			return
		}
		sess := s.sessions.Get(peer)
		offer, err := sess.Accept()
		if err != nil {
			acceptErr = err
			return
		}
		go s.runDownload(peer, *offer)
	})
	if err != nil {
		return err
	}
	return acceptErr
}

// DeclineOffer declines the pending offer from a peer.
func (s *SwapBytes) DeclineOffer(peer crypto.PeerID) error {
	var declineErr error
	err := s.do(func() {
		sess := s.sessions.Get(peer)
		offer, err := sess.Decline()
		if err != nil {
			declineErr = err
			return
		}

		pkt := protocolDecline(time.Now())
		go func() {
			if _, err := s.sendRequest(peer, pkt); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "DeclineOffer",
					"peer":     peer.Short(),
					"filename": offer.Filename,
					"error":    err.Error(),
				}).Warn("Decline delivery failed")
			}
		}()
	})
	if err != nil {
		return err
	}
	return declineErr
}

// ResumeTransfer reissues the chunk request a stalled download was waiting
// on. Chunk reads are idempotent, so pulling the same index again is safe.
func (s *SwapBytes) ResumeTransfer(peer crypto.PeerID) error {
	var resumeErr error
	err := s.do(func() {
		dl, ok := s.downloads[peer]
		if !ok {
			resumeErr = ErrNoTransfer
			return
		}
		if err := dl.Resume(); err != nil {
			resumeErr = err
			return
		}

		logrus.WithFields(logrus.Fields{
			"function": "ResumeTransfer",
			"peer":     peer.Short(),
			"index":    dl.NextIndex(),
		}).Info("Resuming stalled transfer")

		go s.pullChunks(peer, dl)
	})
	if err != nil {
		return err
	}
	return resumeErr
}

// TransferProgress reports the latest transfer state with a peer.
func (s *SwapBytes) TransferProgress(peer crypto.PeerID) (transfer.Progress, error) {
	var (
		prog  transfer.Progress
		found bool
	)
	err := s.do(func() {
		if dl, ok := s.downloads[peer]; ok {
			prog = dl.Progress()
			found = true
		}
	})
	if err != nil {
		return transfer.Progress{}, err
	}
	if !found {
		return transfer.Progress{}, ErrNoTransfer
	}
	return prog, nil
}

// SetNickname updates the announced nickname and heartbeats it immediately.
func (s *SwapBytes) SetNickname(nickname string) error {
	if len(nickname) > protocol.MaxStringLength {
		return protocol.ErrStringTooLong
	}
	return s.do(func() {
		s.nickname = nickname
		if s.visible {
			s.publishHeartbeat()
		}
	})
}

// SetVisible toggles presence broadcasting.
func (s *SwapBytes) SetVisible(visible bool) error {
	return s.do(func() {
		s.visible = visible
		if visible {
			s.publishHeartbeat()
		}
	})
}

// Peers returns an ordered snapshot of the presence table.
func (s *SwapBytes) Peers() ([]presence.PeerRecord, error) {
	var snapshot []presence.PeerRecord
	err := s.do(func() {
		snapshot = s.presence.Snapshot()
	})
	return snapshot, err
}

// GlobalHistory returns the global chat log.
func (s *SwapBytes) GlobalHistory() []history.Entry {
	return s.chatLog.Global()
}

// PrivateHistory returns the private chat log with one peer.
func (s *SwapBytes) PrivateHistory(peer crypto.PeerID) []history.Entry {
	return s.chatLog.Private(peer)
}
