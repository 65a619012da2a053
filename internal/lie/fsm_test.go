package lie

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rift/core/internal/packet"
	"github.com/rift/core/internal/rift"
)

func newTestFSM(systemID rift.SystemID) *FSM {
	return New(LocalConfig{
		SystemID:     systemID,
		MajorVersion: 1,
		LocalLinkID:  1,
		FloodPort:    911,
		MTU:          1400,
		Holdtime:     3,
	})
}

func acceptableLie(sender rift.SystemID, level uint8) ReceivedLie {
	return ReceivedLie{
		Address: "10.0.0.2:911",
		Header:  packet.PacketHeader{MajorVersion: 1, Sender: sender, Level: rift.NewLevel(level)},
		Body:    packet.LiePacket{LocalID: 2, FloodPort: 911, LinkMTUSize: 1400, Holdtime: 3},
	}
}

func TestOneWayToTwoWayOnFirstAcceptableLie(t *testing.T) {
	f := newTestFSM(1)
	f.level = rift.NewLevel(10)
	f.Enqueue(LieRcvd(acceptableLie(2, 10)))
	require.NoError(t, f.Step())
	require.Equal(t, TwoWay, f.State())
	require.NotNil(t, f.Neighbor())
}

func TestTwoWayToThreeWayOnValidReflection(t *testing.T) {
	f := newTestFSM(1)
	f.level = rift.NewLevel(10)
	f.Enqueue(LieRcvd(acceptableLie(2, 10)))
	require.NoError(t, f.Step())
	require.Equal(t, TwoWay, f.State())

	reflecting := acceptableLie(2, 10)
	reflecting.Body.Neighbor = &packet.Neighbor{Originator: 1, RemoteID: 1}
	f.Enqueue(LieRcvd(reflecting))
	require.NoError(t, f.Step())
	require.Equal(t, ThreeWay, f.State())
}

func TestSameSystemIDIsRejectedWithoutUnacceptableHeader(t *testing.T) {
	f := newTestFSM(1)
	f.level = rift.NewLevel(10)
	lie := acceptableLie(1, 10) // sender == own SystemID
	f.Enqueue(LieRcvd(lie))
	require.NoError(t, f.Step())
	require.Equal(t, OneWay, f.State())
	require.Nil(t, f.Neighbor())

	// Run PROCESS_LIE directly to observe that it pushes no chained event.
	f.processLie(lie)
	require.Empty(t, f.chained)
}

func TestMTUMismatchPushesUpdateThenMismatch(t *testing.T) {
	f := newTestFSM(1)
	f.level = rift.NewLevel(10)
	lie := acceptableLie(2, 10)
	lie.Body.LinkMTUSize = 9000
	f.Enqueue(LieRcvd(lie))
	require.NoError(t, f.Step())
	require.Equal(t, OneWay, f.State())

	// Run PROCESS_LIE directly to observe the order of its chained pushes.
	f.processLie(lie)
	require.Equal(t, []Event{{Kind: EvUpdateZTPOffer}, {Kind: EvMTUMismatch}}, f.chained)
}

func TestHoldtimeExpiredDropsThreeWayToOneWay(t *testing.T) {
	fakeNow := time.Now()
	f := New(LocalConfig{SystemID: 1, MajorVersion: 1, LocalLinkID: 1, FloodPort: 911, MTU: 1400, Holdtime: 3},
		WithClock(func() time.Time { return fakeNow }))
	f.level = rift.NewLevel(10)

	f.Enqueue(LieRcvd(acceptableLie(2, 10)))
	require.NoError(t, f.Step())
	reflecting := acceptableLie(2, 10)
	reflecting.Body.Neighbor = &packet.Neighbor{Originator: 1, RemoteID: 1}
	f.Enqueue(LieRcvd(reflecting))
	require.NoError(t, f.Step())
	require.Equal(t, ThreeWay, f.State())

	fakeNow = fakeNow.Add(10 * time.Second)
	f.Enqueue(TimerTick())
	require.NoError(t, f.Step())
	require.Equal(t, OneWay, f.State())
}

func TestCleanupPreservesLastValidLie(t *testing.T) {
	f := newTestFSM(1)
	f.level = rift.NewLevel(10)
	f.Enqueue(LieRcvd(acceptableLie(2, 10)))
	require.NoError(t, f.Step())
	require.NotNil(t, f.neighbor)

	mismatch := acceptableLie(2, 10)
	mismatch.Body.LinkMTUSize = 9000
	f.Enqueue(LieRcvd(mismatch))
	require.NoError(t, f.Step())
	require.Nil(t, f.Neighbor())
	require.NotNil(t, f.lastValidLie)
}
