package swapbytes

import (
	"context"
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

// Topic is the shared broadcast topic carrying heartbeats and global chat.
const Topic = "swapbytes"

// maxIndexMismatches bounds how many consecutive wrong-index chunks a
// download tolerates before giving up on the sender.
const maxIndexMismatches = 8

func protocolGlobalChat(text string, now time.Time) (*protocol.Packet, error) {
	return protocol.EncodeGlobalChat(protocol.GlobalChat{Text: text, Timestamp: now.UnixMilli()})
}

func protocolPrivateChat(text string, now time.Time) (*protocol.Packet, error) {
	return protocol.EncodePrivateChat(protocol.PrivateChat{Text: text, Timestamp: now.UnixMilli()})
}

func protocolOffer(filename string, size, chunkSize uint64, now time.Time) *protocol.Packet {
	return protocol.EncodeOffer(protocol.Offer{Filename: filename, Size: size, ChunkSize: chunkSize, Timestamp: now.UnixMilli()})
}

func protocolDecline(now time.Time) *protocol.Packet {
	return protocol.EncodeDecline(protocol.Decline{Timestamp: now.UnixMilli()})
}

// transferErrorPacket builds a TransferError response, falling back to a
// generic reason if the original text does not fit on the wire.
func transferErrorPacket(filename, reason string) *protocol.Packet {
	pkt, err := protocol.EncodeTransferError(protocol.TransferError{Filename: filename, Reason: reason})
	if err == nil {
		return pkt
	}
	pkt, _ = protocol.EncodeTransferError(protocol.TransferError{Reason: "transfer failed"})
	return pkt
}

func validateOfferName(name string) error {
	return protocol.ValidateFilename(name)
}

// sendRequest performs one bounded request round-trip. Blocking; call from a
// goroutine, never from the event loop.
func (s *SwapBytes) sendRequest(peer crypto.PeerID, pkt *protocol.Packet) (*protocol.Packet, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.RequestTimeout)
	defer cancel()
	return s.node.SendRequest(ctx, peer, pkt)
}

// publishHeartbeat broadcasts a presence heartbeat. Loop-only caller.
func (s *SwapBytes) publishHeartbeat() {
	pkt, err := protocol.EncodeHeartbeat(protocol.Heartbeat{
		Nickname:  s.nickname,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "publishHeartbeat",
			"error":    err.Error(),
		}).Warn("Nickname does not fit in a heartbeat")
		return
	}
	go func() {
		if err := s.node.Publish(Topic, pkt); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "publishHeartbeat",
				"error":    err.Error(),
			}).Debug("Failed to publish heartbeat")
		}
	}()
}

// appendChat records an entry in the in-memory log, persists it, and
// notifies. Loop-only caller.
func (s *SwapBytes) appendChat(entry history.Entry) {
	s.chatLog.Append(entry)
	if err := s.store.Append(entry); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "appendChat",
			"scope":    entry.ScopeKey(),
			"error":    err.Error(),
		}).Warn("Failed to persist chat entry")
	}
	s.notifyChat(entry)
}

func (s *SwapBytes) notifyChat(entry history.Entry) {
	s.cbMu.RLock()
	cb := s.chatCallback
	s.cbMu.RUnlock()
	if cb != nil {
		cb(entry)
	}
}

func (s *SwapBytes) notifyPresence(rec presence.PeerRecord) {
	s.cbMu.RLock()
	cb := s.presenceCallback
	s.cbMu.RUnlock()
	if cb != nil {
		cb(rec)
	}
}

func (s *SwapBytes) notifyOfferReceived(offer session.Offer) {
	s.cbMu.RLock()
	cb := s.offerRecvCallback
	s.cbMu.RUnlock()
	if cb != nil {
		cb(offer)
	}
}

func (s *SwapBytes) notifyOfferExpired(offer session.Offer) {
	s.cbMu.RLock()
	cb := s.offerExpCallback
	s.cbMu.RUnlock()
	if cb != nil {
		cb(offer)
	}
}

func (s *SwapBytes) notifyOfferAnswered(offer session.Offer, accepted bool) {
	s.cbMu.RLock()
	cb := s.offerAnsCallback
	s.cbMu.RUnlock()
	if cb != nil {
		cb(offer, accepted)
	}
}

func (s *SwapBytes) notifyProgress(p transfer.Progress) {
	s.cbMu.RLock()
	cb := s.progressCallback
	s.cbMu.RUnlock()
	if cb != nil {
		cb(p)
	}
}

func (s *SwapBytes) notifyComplete(p transfer.Progress) {
	s.cbMu.RLock()
	cb := s.completeCallback
	s.cbMu.RUnlock()
	if cb != nil {
		cb(p)
	}
}

func (s *SwapBytes) notifyFailed(peer crypto.PeerID, filename, reason string) {
	s.cbMu.RLock()
	cb := s.failedCallback
	s.cbMu.RUnlock()
	if cb != nil {
		cb(peer, filename, reason)
	}
}

// respond answers an inbound request, logging the failure if the transport
// rejects it. Every request must be answered exactly once.
func respond(req transport.InboundRequest, pkt *protocol.Packet) {
	if err := req.Responder.Respond(pkt); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "respond",
			"peer":     req.From.Short(),
			"type":     req.Packet.PacketType.String(),
			"error":    err.Error(),
		}).Warn("Failed to respond to request")
	}
}

// handleRequest routes one inbound point-to-point request. Loop-only caller.
func (s *SwapBytes) handleRequest(req transport.InboundRequest) {
	switch req.Packet.PacketType {
	case protocol.PacketPrivateChat:
		s.handlePrivateChat(req)
	case protocol.PacketOffer:
		s.handleOffer(req)
	case protocol.PacketAccept:
		s.handleAccept(req)
	case protocol.PacketDecline:
		s.handleDecline(req)
	case protocol.PacketRequestChunk:
		s.handleRequestChunk(req)
	case protocol.PacketTransferError:
		s.handleTransferError(req)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleRequest",
			"peer":     req.From.Short(),
			"type":     req.Packet.PacketType.String(),
		}).Warn("Dropping request with unexpected packet type")
		respond(req, protocol.EncodeAck())
	}
}

func (s *SwapBytes) handlePrivateChat(req transport.InboundRequest) {
	msg, err := protocol.DecodePrivateChat(req.Packet.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handlePrivateChat",
			"peer":     req.From.Short(),
			"error":    err.Error(),
		}).Warn("Dropping malformed private chat")
		respond(req, protocol.EncodeAck())
		return
	}

	name := ""
	if rec, ok := s.presence.Lookup(req.From); ok {
		name = rec.DisplayName()
	}
	entry := history.NewEntry(req.From, name, msg.Text, time.Now())
	entry.Private = true
	entry.Peer = req.From
	s.appendChat(entry)

	respond(req, protocol.EncodeAck())
}

func (s *SwapBytes) handleOffer(req transport.InboundRequest) {
	defer respond(req, protocol.EncodeAck())

	msg, err := protocol.DecodeOffer(req.Packet.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleOffer",
			"peer":     req.From.Short(),
			"error":    err.Error(),
		}).Warn("Dropping malformed offer")
		return
	}
	if err := protocol.ValidateFilename(msg.Filename); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleOffer",
			"peer":     req.From.Short(),
			"filename": msg.Filename,
			"error":    err.Error(),
		}).Warn("Dropping offer with illegal filename")
		return
	}
	if msg.ChunkSize == 0 || msg.ChunkSize > protocol.MaxChunkPayload {
		logrus.WithFields(logrus.Fields{
			"function":   "handleOffer",
			"peer":       req.From.Short(),
			"filename":   msg.Filename,
			"chunk_size": msg.ChunkSize,
		}).Warn("Dropping offer with unservable chunk size")
		return
	}

	sess := s.sessions.Get(req.From)
	if sess.State == session.StateAccepted || sess.Transferring() {
		// A stalled download no longer has a driver; a fresh offer from the
		// peer supersedes it. A live transfer is left alone.
		if !s.abandonStalled(req.From) {
			logrus.WithFields(logrus.Fields{
				"function": "handleOffer",
				"peer":     req.From.Short(),
				"filename": msg.Filename,
				"state":    sess.State.String(),
			}).Info("Ignoring offer during active transfer")
			return
		}
	}

	offer, expired := sess.ReceiveOffer(msg.Filename, msg.Size, msg.ChunkSize, time.Now())
	if expired != nil {
		s.notifyOfferExpired(*expired)
	}
	s.notifyOfferReceived(*offer)
}

// abandonStalled tears down a stalled download so the peer pair can negotiate
// again. Returns false when there is nothing stalled to abandon. Loop-only
// caller.
func (s *SwapBytes) abandonStalled(peer crypto.PeerID) bool {
	dl, ok := s.downloads[peer]
	if !ok || dl.Status() != transfer.StatusStalled {
		return false
	}
	prog := dl.Progress()
	dl.Abort()
	delete(s.downloads, peer)

	if sess, ok := s.sessions.Peek(peer); ok && sess.Transferring() {
		if err := sess.Fail(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "abandonStalled",
				"peer":     peer.Short(),
				"error":    err.Error(),
			}).Warn("Session fail transition rejected")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "abandonStalled",
		"peer":     peer.Short(),
		"filename": prog.Filename,
	}).Info("Abandoning stalled transfer")

	s.notifyFailed(peer, prog.Filename, "stalled transfer superseded by a new offer")
	return true
}

func (s *SwapBytes) handleAccept(req transport.InboundRequest) {
	defer respond(req, protocol.EncodeAck())

	sess := s.sessions.Get(req.From)
	offer, err := sess.OnAcceptReceived()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAccept",
			"peer":     req.From.Short(),
			"state":    sess.State.String(),
		}).Warn("Dropping accept with no pending offer")
		return
	}

	src := transfer.NewSource(req.From, offer.Filename, offer.LocalPath, offer.ChunkSize)
	s.sources[sourceKey{req.From, offer.Filename}] = src

	logrus.WithFields(logrus.Fields{
		"function": "handleAccept",
		"peer":     req.From.Short(),
		"filename": offer.Filename,
	}).Info("Offer accepted, serving chunks")

	s.notifyOfferAnswered(*offer, true)
}

func (s *SwapBytes) handleDecline(req transport.InboundRequest) {
	defer respond(req, protocol.EncodeAck())

	sess := s.sessions.Get(req.From)
	offer, err := sess.OnDeclineReceived()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleDecline",
			"peer":     req.From.Short(),
			"state":    sess.State.String(),
		}).Warn("Dropping decline with no pending offer")
		return
	}
	s.notifyOfferAnswered(*offer, false)
}

// handleRequestChunk serves one chunk. The disk read and the response run on
// a goroutine; the single-outstanding-request discipline on the receiving
// side keeps reads for one transfer sequential.
func (s *SwapBytes) handleRequestChunk(req transport.InboundRequest) {
	msg, err := protocol.DecodeRequestChunk(req.Packet.Data)
	if err != nil {
		respond(req, transferErrorPacket("", "malformed chunk request"))
		return
	}

	sess, ok := s.sessions.Peek(req.From)
	src := s.sources[sourceKey{req.From, msg.Filename}]
	if !ok || !sess.Transferring() || src == nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleRequestChunk",
			"peer":     req.From.Short(),
			"filename": msg.Filename,
			"index":    msg.Index,
		}).Warn("Chunk requested with no active transfer")
		respond(req, transferErrorPacket(msg.Filename, "no active transfer"))
		return
	}

	peer := req.From
	go func() {
		data, final, err := src.ReadChunkAt(msg.Index)
		if err != nil {
			respond(req, transferErrorPacket(msg.Filename, err.Error()))
			s.emit(func() { s.senderFail(peer, msg.Filename, err.Error()) })
			return
		}

		pkt, err := protocol.EncodeChunk(protocol.Chunk{
			Filename: msg.Filename,
			Index:    msg.Index,
			Data:     data,
			Final:    final,
		})
		if err != nil {
			respond(req, transferErrorPacket(msg.Filename, err.Error()))
			s.emit(func() { s.senderFail(peer, msg.Filename, err.Error()) })
			return
		}
		respond(req, pkt)

		if final {
			served := msg.Index*src.ChunkSize() + uint64(len(data))
			s.emit(func() { s.senderComplete(peer, msg.Filename, served) })
		}
	}()
}

// handleTransferError processes a receiver-side abort for a file we serve.
func (s *SwapBytes) handleTransferError(req transport.InboundRequest) {
	defer respond(req, protocol.EncodeAck())

	msg, err := protocol.DecodeTransferError(req.Packet.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleTransferError",
			"peer":     req.From.Short(),
			"error":    err.Error(),
		}).Warn("Dropping malformed transfer error")
		return
	}
	s.senderFail(req.From, msg.Filename, msg.Reason)
}

// senderFail tears down the sending side of a transfer. Loop-only caller.
func (s *SwapBytes) senderFail(peer crypto.PeerID, filename, reason string) {
	key := sourceKey{peer, filename}
	src, ok := s.sources[key]
	if !ok {
		return
	}
	if err := src.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "senderFail",
			"filename": filename,
			"error":    err.Error(),
		}).Warn("Failed to close source")
	}
	delete(s.sources, key)

	if sess, ok := s.sessions.Peek(peer); ok && (sess.Transferring() || sess.State == session.StateAccepted) {
		if err := sess.Fail(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "senderFail",
				"peer":     peer.Short(),
				"error":    err.Error(),
			}).Warn("Session fail transition rejected")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "senderFail",
		"peer":     peer.Short(),
		"filename": filename,
		"reason":   reason,
	}).Warn("Outbound transfer failed")

	s.notifyFailed(peer, filename, reason)
}

// senderComplete marks an outbound transfer done once the final chunk went
// out. The protocol treats the receiver's final request as the implicit
// acknowledgement; no explicit completion message exists.
func (s *SwapBytes) senderComplete(peer crypto.PeerID, filename string, served uint64) {
	key := sourceKey{peer, filename}
	src, ok := s.sources[key]
	if !ok {
		return
	}
	if err := src.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "senderComplete",
			"filename": filename,
			"error":    err.Error(),
		}).Warn("Failed to close source")
	}
	delete(s.sources, key)

	if sess, ok := s.sessions.Peek(peer); ok && sess.Transferring() {
		if err := sess.Complete(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "senderComplete",
				"peer":     peer.Short(),
				"error":    err.Error(),
			}).Warn("Session complete transition rejected")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "senderComplete",
		"peer":     peer.Short(),
		"filename": filename,
		"bytes":    served,
	}).Info("Outbound transfer completed")

	s.notifyComplete(transfer.Progress{
		Peer:           peer,
		Filename:       filename,
		BytesConfirmed: served,
		TotalSize:      served,
		Status:         transfer.StatusCompleted,
	})
}

// handleDelivery routes one broadcast delivery. Activity is attributed to the
// verified original author, never to the forwarding hop. Loop-only caller.
func (s *SwapBytes) handleDelivery(d transport.Delivery) {
	if d.Author == s.self {
		return
	}

	switch d.Packet.PacketType {
	case protocol.PacketHeartbeat:
		msg, err := protocol.DecodeHeartbeat(d.Packet.Data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleDelivery",
				"author":   d.Author.Short(),
				"error":    err.Error(),
			}).Warn("Dropping malformed heartbeat")
			return
		}
		act := s.presence.RecordActivity(d.Author, msg.Nickname, time.Now())
		if act.CameOnline || act.NicknameChanged {
			s.notifyPresence(act.Record)
		}

	case protocol.PacketGlobalChat:
		msg, err := protocol.DecodeGlobalChat(d.Packet.Data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleDelivery",
				"author":   d.Author.Short(),
				"error":    err.Error(),
			}).Warn("Dropping malformed global chat")
			return
		}

		// Any authored broadcast counts as liveness.
		act := s.presence.RecordActivity(d.Author, "", time.Now())
		if act.CameOnline {
			s.notifyPresence(act.Record)
		}

		entry := history.NewEntry(d.Author, act.Record.DisplayName(), msg.Text, time.Now())
		s.appendChat(entry)

	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleDelivery",
			"author":   d.Author.Short(),
			"type":     d.Packet.PacketType.String(),
		}).Warn("Dropping broadcast with unexpected packet type")
	}
}

// runDownload drives the receiving side of one transfer: it sends the accept,
// initializes the download, then pulls chunks one at a time until the file is
// final. Runs on its own goroutine; all session and roster mutations go back
// through the event loop.
func (s *SwapBytes) runDownload(peer crypto.PeerID, offer session.Offer) {
	acceptPkt := protocol.EncodeAccept(protocol.Accept{Timestamp: time.Now().UnixMilli()})
	if _, err := s.sendRequest(peer, acceptPkt); err != nil {
		// The sender never saw the accept, so chunk requests will bounce.
		logrus.WithFields(logrus.Fields{
			"function": "runDownload",
			"peer":     peer.Short(),
			"filename": offer.Filename,
			"error":    err.Error(),
		}).Error("Accept delivery failed")
		s.emit(func() { s.receiverFail(peer, offer.Filename, "accept delivery failed: "+err.Error()) })
		return
	}

	dl, err := transfer.NewDownload(peer, offer.Filename, offer.Size, s.options.DownloadDir, offer.ChunkSize)
	if err != nil {
		s.emit(func() { s.receiverFail(peer, offer.Filename, err.Error()) })
		s.reportAbort(peer, offer.Filename, err.Error())
		return
	}

	s.emit(func() {
		s.downloads[peer] = dl
		if sess, ok := s.sessions.Peek(peer); ok {
			if err := sess.BeginTransfer(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "runDownload",
					"peer":     peer.Short(),
					"error":    err.Error(),
				}).Warn("Begin transfer transition rejected")
			}
		}
	})

	s.pullChunks(peer, dl)
}

// pullChunks requests chunks one at a time until the download finishes,
// stalls, or aborts. One outstanding request at a time is the back-pressure
// mechanism. Runs off the event loop.
func (s *SwapBytes) pullChunks(peer crypto.PeerID, dl *transfer.Download) {
	filename := dl.Progress().Filename
	lastNotified := dl.Progress().BytesConfirmed
	mismatches := 0

	for {
		index := dl.NextIndex()
		reqPkt := protocol.EncodeRequestChunk(protocol.RequestChunk{
			Filename: filename,
			Index:    index,
		})

		resp, err := s.sendRequest(peer, reqPkt)
		if err != nil {
			dl.MarkStalled()
			prog := dl.Progress()
			logrus.WithFields(logrus.Fields{
				"function": "pullChunks",
				"peer":     peer.Short(),
				"filename": filename,
				"index":    index,
				"error":    err.Error(),
			}).Warn("Chunk request unanswered, transfer stalled")
			s.emit(func() { s.notifyProgress(prog) })
			return
		}

		switch resp.PacketType {
		case protocol.PacketChunk:
			chunk, err := protocol.DecodeChunk(resp.Data)
			if err != nil {
				dl.Abort()
				s.emit(func() { s.receiverFail(peer, filename, "malformed chunk: "+err.Error()) })
				s.reportAbort(peer, filename, "malformed chunk")
				return
			}
			if chunk.Filename != filename {
				dl.Abort()
				s.emit(func() { s.receiverFail(peer, filename, "chunk for wrong file") })
				s.reportAbort(peer, filename, "chunk for wrong file")
				return
			}

			prog, err := dl.ApplyChunk(chunk.Index, chunk.Data, chunk.Final)
			if err == transfer.ErrUnexpectedChunk {
				// A stale duplicate is harmless, but a sender that keeps
				// answering with the wrong index would spin this loop forever.
				mismatches++
				if mismatches < maxIndexMismatches {
					continue
				}
				dl.Abort()
				s.emit(func() { s.receiverFail(peer, filename, "sender keeps serving the wrong chunk index") })
				s.reportAbort(peer, filename, "wrong chunk index")
				return
			}
			if err != nil {
				s.emit(func() { s.receiverFail(peer, filename, err.Error()) })
				s.reportAbort(peer, filename, err.Error())
				return
			}
			mismatches = 0

			if chunk.Final {
				s.emit(func() { s.receiverComplete(peer, prog) })
				return
			}
			if prog.BytesConfirmed-lastNotified >= s.options.ProgressInterval {
				lastNotified = prog.BytesConfirmed
				s.emit(func() { s.notifyProgress(prog) })
			}

		case protocol.PacketTransferError:
			reason := "transfer refused"
			if te, err := protocol.DecodeTransferError(resp.Data); err == nil && te.Reason != "" {
				reason = te.Reason
			}
			dl.Abort()
			s.emit(func() { s.receiverFail(peer, filename, reason) })
			return

		default:
			dl.Abort()
			s.emit(func() { s.receiverFail(peer, filename, "unexpected response: "+resp.PacketType.String()) })
			s.reportAbort(peer, filename, "protocol error")
			return
		}
	}
}

// reportAbort tells the sender we gave up so it can release its source.
// Best effort; the sender also recovers when its peer times out.
func (s *SwapBytes) reportAbort(peer crypto.PeerID, filename, reason string) {
	pkt := transferErrorPacket(filename, reason)
	go func() {
		if _, err := s.sendRequest(peer, pkt); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "reportAbort",
				"peer":     peer.Short(),
				"filename": filename,
				"error":    err.Error(),
			}).Debug("Abort report delivery failed")
		}
	}()
}

// receiverFail finalizes a failed download on the loop.
func (s *SwapBytes) receiverFail(peer crypto.PeerID, filename, reason string) {
	if sess, ok := s.sessions.Peek(peer); ok && (sess.Transferring() || sess.State == session.StateAccepted) {
		if err := sess.Fail(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "receiverFail",
				"peer":     peer.Short(),
				"error":    err.Error(),
			}).Warn("Session fail transition rejected")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "receiverFail",
		"peer":     peer.Short(),
		"filename": filename,
		"reason":   reason,
	}).Warn("Inbound transfer failed")

	s.notifyFailed(peer, filename, reason)
}

// receiverComplete finalizes a successful download on the loop.
func (s *SwapBytes) receiverComplete(peer crypto.PeerID, prog transfer.Progress) {
	if sess, ok := s.sessions.Peek(peer); ok && sess.Transferring() {
		if err := sess.Complete(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "receiverComplete",
				"peer":     peer.Short(),
				"error":    err.Error(),
			}).Warn("Session complete transition rejected")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "receiverComplete",
		"peer":       peer.Short(),
		"filename":   prog.Filename,
		"bytes":      prog.BytesConfirmed,
		"final_path": prog.FinalPath,
	}).Info("Inbound transfer completed")

	s.notifyComplete(prog)
}
