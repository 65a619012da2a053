package packet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rift/core/internal/rift"
)

func TestLieRoundTrip(t *testing.T) {
	name := "eth0"
	p := ProtocolPacket{
		Header: PacketHeader{MajorVersion: 1, MinorVersion: 2, Sender: 7, Level: rift.NewLevel(12)},
		Lie: &LiePacket{
			Name:        &name,
			LocalID:     3,
			FloodPort:   911,
			LinkMTUSize: 1400,
			Holdtime:    3,
			NodeCapabilities: NodeCapabilities{
				ProtocolMinorVersion: 2,
			},
			Neighbor: &Neighbor{Originator: 99, RemoteID: 5},
		},
	}
	b, err := Encode(p)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, p.Header, got.Header)
	require.NotNil(t, got.Lie)
	require.Equal(t, *p.Lie.Name, *got.Lie.Name)
	require.Equal(t, p.Lie.LocalID, got.Lie.LocalID)
	require.Equal(t, p.Lie.Neighbor, got.Lie.Neighbor)
}

func TestTideRoundTrip(t *testing.T) {
	p := ProtocolPacket{
		Header: PacketHeader{MajorVersion: 1, Sender: 1, Level: rift.NewLevel(1)},
		Tide: &TidePacket{
			StartRange: rift.MinTIEID,
			EndRange:   rift.MaxTIEID,
			Headers: []HeaderWithLifetime{
				{Header: rift.TIEHeader{TIEID: rift.TIEID{Originator: 1, TIENr: 1}, SeqNr: 1}, RemainingLifetime: 300},
			},
		},
	}
	b, err := Encode(p)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, KindTide, got.Kind())
	require.Len(t, got.Tide.Headers, 1)
	require.True(t, got.Tide.Headers[0].Header.Equal(p.Tide.Headers[0].Header))
}

func TestDecodeTruncatedReturnsCodecError(t *testing.T) {
	_, err := Decode([]byte{byte(KindLie)})
	require.ErrorIs(t, err, ErrCodec)
}
