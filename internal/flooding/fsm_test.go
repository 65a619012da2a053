package flooding

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rift/core/internal/packet"
	"github.com/rift/core/internal/rift"
)

func tieID(originator rift.SystemID, nr uint32) rift.TIEID {
	return rift.TIEID{Direction: rift.DirectionSouth, Originator: originator, TIENr: nr}
}

func TestQueuesAreMutuallyExclusive(t *testing.T) {
	q := NewQueues()
	h := rift.TIEHeader{TIEID: tieID(1, 1), SeqNr: 1}
	q.TryToTransmitTie(h, nil)
	require.Equal(t, 1, q.TXLen())
	q.AckTie(packet.HeaderWithLifetime{Header: h, RemainingLifetime: 300})
	require.Equal(t, 0, q.TXLen())
	require.Equal(t, 1, q.ACKLen())
	q.RequestTie(h, nil)
	require.Equal(t, 0, q.ACKLen())
	require.Equal(t, 1, q.REQLen())
}

func TestProcessTieInsertsNewRemoteTie(t *testing.T) {
	lsdb := NewLSDB(1)
	fsm := New(lsdb, 1)
	tie := packet.TiePacket{Header: rift.TIEHeader{TIEID: tieID(2, 1), SeqNr: 1}, Element: []byte("content")}
	fsm.ProcessTie(tie)

	e, ok := lsdb.Get(tie.Header.TIEID)
	require.True(t, ok)
	require.Equal(t, tie.Element, e.Content)
	require.Equal(t, 1, fsm.Queues().ACKLen())
}

func TestProcessTieBumpsOwnStaleTie(t *testing.T) {
	lsdb := NewLSDB(1)
	lsdb.Put(TIEEntry{Header: rift.TIEHeader{TIEID: tieID(1, 5), SeqNr: 1}, Content: []byte("mine")})
	fsm := New(lsdb, 1)

	remote := packet.TiePacket{Header: rift.TIEHeader{TIEID: tieID(1, 5), SeqNr: 3}}
	fsm.ProcessTie(remote)

	e, ok := lsdb.Get(tieID(1, 5))
	require.True(t, ok)
	require.Greater(t, e.Header.SeqNr, uint32(3))
	require.Equal(t, 1, fsm.Queues().TXLen())
}

func TestGenerateTideCoversFullRange(t *testing.T) {
	lsdb := NewLSDB(1)
	for i := uint32(1); i <= 3; i++ {
		lsdb.Put(TIEEntry{Header: rift.TIEHeader{TIEID: tieID(2, i), SeqNr: 1}, Content: []byte("x")})
	}
	fsm := New(lsdb, 1)
	tides := fsm.GenerateTide(func(rift.TIEID) uint32 { return 300 }, 2)
	require.Len(t, tides, 2)
	require.Equal(t, rift.MinTIEID, tides[0].StartRange)
	require.Equal(t, rift.MaxTIEID, tides[len(tides)-1].EndRange)
	for _, td := range tides {
		require.LessOrEqual(t, len(td.Headers), 2)
	}
}

func TestProcessTideOutOfOrderResetsAdjacency(t *testing.T) {
	lsdb := NewLSDB(1)
	fsm := New(lsdb, 1)
	tide := packet.TidePacket{
		StartRange: tieID(5, 5),
		EndRange:   rift.MaxTIEID,
		Headers: []packet.HeaderWithLifetime{
			{Header: rift.TIEHeader{TIEID: tieID(2, 1)}, RemainingLifetime: 300},
		},
	}
	err := fsm.ProcessTide(tide, false)
	require.ErrorIs(t, err, ErrAdjacencyReset)
}
