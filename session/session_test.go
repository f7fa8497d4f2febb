package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/swapbytes/crypto"
)

func testPeerID(b byte) crypto.PeerID {
	var id crypto.PeerID
	id[0] = b
	return id
}

func TestReceiverLifecycle(t *testing.T) {
	m := NewMachine()
	peer := testPeerID(1)
	sess := m.Get(peer)

	offer, expired := sess.ReceiveOffer("notes.pdf", 1500, 500, time.Now())
	require.Nil(t, expired)
	assert.Equal(t, StateOfferReceived, sess.State)
	assert.Equal(t, DirectionInbound, offer.Direction)
	assert.Equal(t, OfferPending, offer.Status)
	assert.Equal(t, uint64(500), offer.ChunkSize)

	accepted, err := sess.Accept()
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, sess.State)
	assert.Equal(t, OfferAccepted, accepted.Status)

	require.NoError(t, sess.BeginTransfer())
	assert.True(t, sess.Transferring())

	require.NoError(t, sess.Complete())
	assert.Equal(t, StateCompleted, sess.State)
	assert.Nil(t, sess.Offer)
}

func TestSenderLifecycle(t *testing.T) {
	m := NewMachine()
	sess := m.Get(testPeerID(1))

	offer, expired, err := sess.SendOffer("notes.pdf", 1500, 500, "/data/notes.pdf", time.Now())
	require.NoError(t, err)
	require.Nil(t, expired)
	assert.Equal(t, StateOfferSent, sess.State)
	assert.Equal(t, DirectionOutbound, offer.Direction)
	assert.Equal(t, "/data/notes.pdf", offer.LocalPath)

	accepted, err := sess.OnAcceptReceived()
	require.NoError(t, err)
	assert.Equal(t, StateTransferring, sess.State)
	assert.Equal(t, OfferAccepted, accepted.Status)

	require.NoError(t, sess.Complete())
	assert.Equal(t, StateCompleted, sess.State)
}

func TestFreshOutboundOfferSupersedesOurs(t *testing.T) {
	sess := NewMachine().Get(testPeerID(1))

	first, _, err := sess.SendOffer("a.txt", 1, 500, "/a.txt", time.Now())
	require.NoError(t, err)

	second, expired, err := sess.SendOffer("b.txt", 2, 500, "/b.txt", time.Now())
	require.NoError(t, err)
	require.NotNil(t, expired)
	assert.Equal(t, first.ID, expired.ID)
	assert.Equal(t, OfferExpired, expired.Status)
	assert.Equal(t, StateOfferSent, sess.State)
	assert.Equal(t, second.ID, sess.Offer.ID)
}

func TestSendOfferWhilePeerOfferPending(t *testing.T) {
	sess := NewMachine().Get(testPeerID(1))

	sess.ReceiveOffer("theirs.txt", 10, 500, time.Now())

	_, _, err := sess.SendOffer("mine.txt", 1, 500, "/mine.txt", time.Now())
	assert.ErrorIs(t, err, ErrOfferAwaitingAnswer)
}

func TestFreshOfferSupersedesPending(t *testing.T) {
	sess := NewMachine().Get(testPeerID(1))

	first, expired := sess.ReceiveOffer("old.txt", 10, 500, time.Now())
	require.Nil(t, expired)

	second, expired := sess.ReceiveOffer("new.txt", 20, 500, time.Now())
	require.NotNil(t, expired)
	assert.Equal(t, first.ID, expired.ID)
	assert.Equal(t, OfferExpired, expired.Status)
	assert.Equal(t, "new.txt", sess.Offer.Filename)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestInboundOfferSupersedesOurs(t *testing.T) {
	sess := NewMachine().Get(testPeerID(1))

	ours, _, err := sess.SendOffer("mine.txt", 1, 500, "/mine.txt", time.Now())
	require.NoError(t, err)

	_, expired := sess.ReceiveOffer("theirs.txt", 2, 500, time.Now())
	require.NotNil(t, expired)
	assert.Equal(t, ours.ID, expired.ID)
	assert.Equal(t, StateOfferReceived, sess.State)
}

func TestDecline(t *testing.T) {
	sess := NewMachine().Get(testPeerID(1))

	sess.ReceiveOffer("notes.pdf", 1500, 500, time.Now())
	offer, err := sess.Decline()
	require.NoError(t, err)
	assert.Equal(t, OfferDeclined, offer.Status)
	assert.Equal(t, StateIdle, sess.State)
	assert.Nil(t, sess.Offer)
}

func TestAnswerWithoutOffer(t *testing.T) {
	sess := NewMachine().Get(testPeerID(1))

	_, err := sess.Accept()
	assert.ErrorIs(t, err, ErrNoPendingOffer)

	_, err = sess.Decline()
	assert.ErrorIs(t, err, ErrNoPendingOffer)

	_, err = sess.OnAcceptReceived()
	assert.ErrorIs(t, err, ErrNoPendingOffer)

	_, err = sess.OnDeclineReceived()
	assert.ErrorIs(t, err, ErrNoPendingOffer)
}

func TestDeclineReceivedResetsSender(t *testing.T) {
	sess := NewMachine().Get(testPeerID(1))

	_, _, err := sess.SendOffer("notes.pdf", 1500, 500, "/notes.pdf", time.Now())
	require.NoError(t, err)

	offer, err := sess.OnDeclineReceived()
	require.NoError(t, err)
	assert.Equal(t, OfferDeclined, offer.Status)
	assert.Equal(t, StateIdle, sess.State)
}

func TestFailFromTransferring(t *testing.T) {
	sess := NewMachine().Get(testPeerID(1))

	sess.ReceiveOffer("notes.pdf", 1500, 500, time.Now())
	_, err := sess.Accept()
	require.NoError(t, err)
	require.NoError(t, sess.BeginTransfer())

	require.NoError(t, sess.Fail())
	assert.Equal(t, StateFailed, sess.State)
	assert.Nil(t, sess.Offer)
}

func TestTerminalStatesAllowNewOffers(t *testing.T) {
	sess := NewMachine().Get(testPeerID(1))

	sess.ReceiveOffer("a.txt", 1, 500, time.Now())
	_, err := sess.Accept()
	require.NoError(t, err)
	require.NoError(t, sess.BeginTransfer())
	require.NoError(t, sess.Complete())

	// A finished pair negotiates again from scratch.
	_, expired, err := sess.SendOffer("b.txt", 2, 500, "/b.txt", time.Now())
	assert.NoError(t, err)
	assert.Nil(t, expired)
}

func TestTransferControlOutsideTransfer(t *testing.T) {
	sess := NewMachine().Get(testPeerID(1))

	assert.ErrorIs(t, sess.BeginTransfer(), ErrNotTransferring)
	assert.ErrorIs(t, sess.Complete(), ErrNotTransferring)
	assert.ErrorIs(t, sess.Fail(), ErrNotTransferring)
}

func TestMachineIsolatesPeers(t *testing.T) {
	m := NewMachine()

	a := m.Get(testPeerID(1))
	b := m.Get(testPeerID(2))

	_, _, err := a.SendOffer("a.txt", 1, 500, "/a.txt", time.Now())
	require.NoError(t, err)

	assert.Equal(t, StateOfferSent, a.State)
	assert.Equal(t, StateIdle, b.State)

	_, ok := m.Peek(testPeerID(3))
	assert.False(t, ok)
	assert.Same(t, a, m.Get(testPeerID(1)))
}
